package pipeline

import (
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"
)

// Args is the mutable context shared by every processor of one run. Concrete
// pipelines define their own argument structs and embed BaseArgs to satisfy
// it.
type Args interface {
	// Abort stops the run after the current processor returns. It cannot be
	// undone.
	Abort()
	// Aborted reports whether Abort has been called.
	Aborted() bool
}

// BaseArgs carries the abort flag. Embed it by value and pass the enclosing
// struct by pointer.
type BaseArgs struct {
	aborted atomic.Bool
}

// Abort sets the abort flag.
func (a *BaseArgs) Abort() { a.aborted.Store(true) }

// Aborted reports whether the abort flag is set.
func (a *BaseArgs) Aborted() bool { return a.aborted.Load() }

// NamedArgsProvider is implemented by root argument structs that expose
// secondary argument objects to steps declaring an args name.
type NamedArgsProvider interface {
	NamedArgs() map[string]Args
}

// ArgsContext maps names to the argument objects of a run. The empty name is
// the root entry.
type ArgsContext struct {
	root  Args
	named map[string]Args
}

// NewArgsContext seeds a context with root and, when root implements
// NamedArgsProvider, with its named entries.
func NewArgsContext(root Args) *ArgsContext {
	if isNilArgs(root) {
		root = nil
	}
	c := &ArgsContext{root: root, named: make(map[string]Args)}
	if p, ok := root.(NamedArgsProvider); ok {
		for name, a := range p.NamedArgs() {
			if name != "" && !isNilArgs(a) {
				c.named[name] = a
			}
		}
	}
	return c
}

// Root returns the root entry.
func (c *ArgsContext) Root() Args { return c.root }

// Set adds or replaces a named entry. Setting the empty name replaces the
// root. A nil value removes the entry.
func (c *ArgsContext) Set(name string, a Args) {
	if isNilArgs(a) {
		a = nil
	}
	if name == "" {
		c.root = a
		return
	}
	if a == nil {
		delete(c.named, name)
		return
	}
	c.named[name] = a
}

// isNilArgs reports whether a is nil or a nil pointer.
func isNilArgs(a Args) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Lookup returns the entry for name without failing.
func (c *ArgsContext) Lookup(name string) (Args, bool) {
	if name == "" {
		return c.root, c.root != nil
	}
	a, ok := c.named[name]
	return a, ok
}

// Resolve returns the entry for name, or ErrMissingArgs.
func (c *ArgsContext) Resolve(name string) (Args, error) {
	a, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingArgs, name)
	}
	return a, nil
}

// Names returns the named entries in sorted order, excluding the root.
func (c *ArgsContext) Names() []string {
	names := make([]string, 0, len(c.named))
	for name := range c.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
