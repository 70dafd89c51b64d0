// internal/sequence/library.go
package sequence

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxDepth bounds nested sequence expansion
const DefaultMaxDepth = 10

// Library holds named sequences and command aliases. A step that names an
// alias expands to its command, a step that names a sequence (bare or as
// "sequence <name>") expands to that sequence's steps.
type Library struct {
	sequences map[string][]string
	aliases   map[string]string
	maxDepth  int
	mutex     sync.RWMutex
	logger    *zap.Logger
}

// NewLibrary creates an empty library
func NewLibrary(maxDepth int, logger *zap.Logger) *Library {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{
		sequences: make(map[string][]string),
		aliases:   make(map[string]string),
		maxDepth:  maxDepth,
		logger:    logger.With(zap.String("component", "sequence_library")),
	}
}

// Load replaces the library contents
func (l *Library) Load(sequences map[string][]string, aliases map[string]string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.sequences = make(map[string][]string, len(sequences))
	for name, steps := range sequences {
		l.sequences[name] = append([]string(nil), steps...)
	}
	l.aliases = make(map[string]string, len(aliases))
	for name, cmd := range aliases {
		l.aliases[name] = cmd
	}

	l.logger.Info("Sequences loaded",
		zap.Int("sequences", len(l.sequences)),
		zap.Int("aliases", len(l.aliases)),
	)
}

// Define adds or replaces one sequence
func (l *Library) Define(name string, steps []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: sequence name cannot be empty", ErrInvalidStep)
	}
	if len(steps) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptySequence, name)
	}

	l.mutex.Lock()
	l.sequences[name] = append([]string(nil), steps...)
	l.mutex.Unlock()
	return nil
}

// Alias maps a button name to a device command
func (l *Library) Alias(name, command string) {
	l.mutex.Lock()
	l.aliases[name] = command
	l.mutex.Unlock()
}

// Remove deletes a sequence
func (l *Library) Remove(name string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, ok := l.sequences[name]; !ok {
		return false
	}
	delete(l.sequences, name)
	return true
}

// Names lists the defined sequences
func (l *Library) Names() []string {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	names := make([]string, 0, len(l.sequences))
	for name := range l.sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Steps returns the unexpanded steps of a sequence
func (l *Library) Steps(name string) ([]string, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	steps, ok := l.sequences[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), steps...), true
}

// Command resolves an alias
func (l *Library) Command(alias string) (string, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	cmd, ok := l.aliases[alias]
	return cmd, ok
}

// Expand flattens a sequence into directives and device commands
func (l *Library) Expand(name string) ([]string, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	steps, ok := l.sequences[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSequence, name)
	}

	var out []string
	visiting := map[string]bool{name: true}
	if err := l.expand(steps, visiting, []string{name}, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySequence, name)
	}
	return out, nil
}

func (l *Library) expand(steps []string, visiting map[string]bool, path []string, out *[]string) error {
	if len(path) > l.maxDepth {
		return fmt.Errorf("%w: %s (max %d)", ErrTooDeep, strings.Join(path, " > "), l.maxDepth)
	}

	for _, raw := range steps {
		step := strings.TrimSpace(raw)
		if step == "" {
			continue
		}

		if cmd, ok := l.aliases[step]; ok {
			*out = append(*out, cmd)
			continue
		}

		nested := step
		if rest, ok := cutKeyword(step, "sequence"); ok {
			nested = rest
			if _, known := l.sequences[nested]; !known {
				return fmt.Errorf("%w: %s", ErrUnknownSequence, nested)
			}
		}
		inner, ok := l.sequences[nested]
		if !ok {
			*out = append(*out, step)
			continue
		}

		if visiting[nested] {
			return fmt.Errorf("%w: %s", ErrRecursion, strings.Join(append(path, nested), " > "))
		}
		visiting[nested] = true
		err := l.expand(inner, visiting, append(path, nested), out)
		delete(visiting, nested)
		if err != nil {
			return err
		}
	}
	return nil
}
