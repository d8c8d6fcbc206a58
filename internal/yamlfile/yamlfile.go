// Package yamlfile loads and saves untyped YAML documents.
package yamlfile

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loykin/harness/internal/errs"
	"github.com/loykin/harness/internal/metrics"
)

// Document is a generic YAML mapping. No schema is enforced.
type Document = map[string]any

// Read parses the file at path into a Document. An empty or null file yields
// an empty Document.
func Read(path string) (doc Document, err error) {
	defer func() { metrics.ObserveYAML("read", err) }()
	b, err := os.ReadFile(path) // #nosec G304 -- caller-supplied fixture path
	if err != nil {
		return nil, &errs.FileReadError{Path: path, Err: err}
	}
	doc = Document{}
	if len(bytes.TrimSpace(b)) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, &errs.ParseError{Path: path, Err: err}
	}
	// A bare null document decodes to a nil map.
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Write serializes doc and overwrites path with it. The write is not atomic.
func Write(path string, doc Document) (err error) {
	defer func() { metrics.ObserveYAML("write", err) }()
	b, err := Marshal(doc)
	if err != nil {
		return &errs.ParseError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil { // #nosec G306 -- fixture files are shared with the app under test
		return &errs.FileWriteError{Path: path, Err: err}
	}
	return nil
}

// Marshal renders doc with two-space indentation.
func Marshal(doc Document) (out []byte, err error) {
	// yaml.v3 panics on some unsupported values (e.g. channels)
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, panicError{r}
		}
	}()
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadAsync reads in a goroutine and reports through done exactly once.
func ReadAsync(path string, done func(Document, error)) {
	go func() { done(Read(path)) }()
}

// WriteAsync writes in a goroutine and reports through done exactly once.
func WriteAsync(path string, doc Document, done func(error)) {
	go func() { done(Write(path, doc)) }()
}
