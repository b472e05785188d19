package elfx

import (
	"sync"

	"github.com/ianlancetaylor/demangle"
)

var demangled sync.Map // mangled name -> demangled name

// Demangle returns the C++ or Rust demangled form of name, or name itself
// when it is not mangled. Results are cached.
func Demangle(name string) string {
	if v, ok := demangled.Load(name); ok {
		return v.(string)
	}
	d := demangle.Filter(name, demangle.NoClones)
	demangled.Store(name, d)
	return d
}
