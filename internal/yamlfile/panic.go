package yamlfile

import "fmt"

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("yaml: %v", p.v) }
