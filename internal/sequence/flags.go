// internal/sequence/flags.go
package sequence

import (
	"sort"
	"sync"
)

// FlagSource resolves a boolean flag. ok is false when the source does not
// know the flag or holds a non-boolean value for it.
type FlagSource interface {
	Flag(name string) (value, ok bool)
}

// Flags is a settable flag table layered over optional fallback sources,
// such as the signal processor's variables
type Flags struct {
	values   map[string]bool
	fallback []FlagSource
	mutex    sync.RWMutex
}

// NewFlags creates a flag table seeded with initial values
func NewFlags(initial map[string]bool, fallback ...FlagSource) *Flags {
	values := make(map[string]bool, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &Flags{values: values, fallback: fallback}
}

// Set assigns a flag
func (f *Flags) Set(name string, value bool) {
	f.mutex.Lock()
	f.values[name] = value
	f.mutex.Unlock()
}

// Clear removes a flag
func (f *Flags) Clear(name string) {
	f.mutex.Lock()
	delete(f.values, name)
	f.mutex.Unlock()
}

// Flag looks the name up locally, then in each fallback in order
func (f *Flags) Flag(name string) (bool, bool) {
	f.mutex.RLock()
	v, ok := f.values[name]
	f.mutex.RUnlock()
	if ok {
		return v, true
	}
	for _, src := range f.fallback {
		if v, ok := src.Flag(name); ok {
			return v, true
		}
	}
	return false, false
}

// Get returns the flag value, false when unknown
func (f *Flags) Get(name string) bool {
	v, _ := f.Flag(name)
	return v
}

// All returns a copy of the locally set flags
func (f *Flags) All() map[string]bool {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	out := make(map[string]bool, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// Names lists the locally set flags
func (f *Flags) Names() []string {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	names := make([]string, 0, len(f.values))
	for k := range f.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
