package env

import (
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/loykin/harness/internal/errs"
)

type Var map[string]string

type Env struct {
	Var Var // global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// NewFrom uses base instead of the OS environment. Useful in tests.
func NewFrom(base Var) *Env {
	e := New()
	e.env = make(Var, len(base))
	for k, v := range base {
		e.env[k] = v
	}
	return e
}

// OS returns a snapshot of the current process environment.
func OS() Var {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	return base
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() { e.env = OS() }

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Lookup resolves k against globals first, then the base environment.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env == nil {
		e.FromOS()
	}
	v, ok := e.env[k]
	return v, ok
}

// Vars returns the composed view of base and globals.
func (e *Env) Vars() Var {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		m[k] = v
	}
	return m
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply global e.Var overrides
// then apply perProc (slice of "K=V") overrides
// Returns the environment slice in "K=V" form, with ${VAR} expansion performed
// using the composed map (simple expansion, no recursion).
func (e *Env) Merge(perProc []string) []string {
	m := e.Vars()
	delete(m, "")
	for _, kv := range perProc {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	out := make([]string, 0, len(expanded))
	for k, v := range expanded {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}

// Missing returns the names whose value in vars is unset or empty, in input order.
func Missing(vars Var, names []string) []string {
	var missing []string
	for _, n := range names {
		if vars[n] == "" {
			missing = append(missing, n)
		}
	}
	return missing
}

// Require fails with *errs.ConfigError naming every missing variable.
func Require(vars Var, names []string) error {
	if missing := Missing(vars, names); len(missing) > 0 {
		return &errs.ConfigError{Missing: missing}
	}
	return nil
}

// LoadFiles reads dotenv files in order; later files override earlier ones.
func LoadFiles(paths ...string) (Var, error) {
	out := make(Var)
	for _, p := range paths {
		m, err := godotenv.Read(p)
		if err != nil {
			return nil, &errs.FileReadError{Path: p, Err: err}
		}
		for k, v := range m {
			out[k] = v
		}
	}
	return out, nil
}
