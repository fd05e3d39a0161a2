package space

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"spacehub/internal/filter"
	"spacehub/internal/hub"
)

var (
	ErrFilterExists   = errors.New("filter already exists")
	ErrFilterNotFound = errors.New("filter not found")
)

// Watcher is the subscription state of one connection: the filters it
// declared per space, and the spaces it is attached to.
type Watcher struct {
	Conn *hub.Connection

	mu       sync.Mutex
	filters  map[string][]filter.Spec
	attached map[string]struct{}
}

func NewWatcher(conn *hub.Connection) *Watcher {
	return &Watcher{
		Conn:     conn,
		filters:  make(map[string][]filter.Spec),
		attached: make(map[string]struct{}),
	}
}

func (w *Watcher) ID() string { return w.Conn.ID }

// Filters returns a copy of the filters declared on spaceName, in
// declaration order.
func (w *Watcher) Filters(spaceName string) []filter.Spec {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]filter.Spec(nil), w.filters[spaceName]...)
}

// Declare records spec for spaceName without computing any delta. It is used
// before the watcher attaches; AddWatcher replays declared filters.
func (w *Watcher) Declare(spaceName string, spec filter.Spec) error {
	return w.addFilter(spaceName, spec)
}

// Redeclare replaces a filter declared with Declare.
func (w *Watcher) Redeclare(spaceName string, spec filter.Spec) error {
	_, err := w.replaceFilter(spaceName, spec)
	return err
}

// Undeclare forgets a filter declared with Declare.
func (w *Watcher) Undeclare(spaceName, name string) error {
	_, err := w.removeFilter(spaceName, name)
	return err
}

// Attached returns the names of the spaces this watcher is attached to.
func (w *Watcher) Attached() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.attached))
	for name := range w.attached {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w *Watcher) IsAttached(spaceName string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.attached[spaceName]
	return ok
}

func (w *Watcher) addFilter(spaceName string, spec filter.Spec) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range w.filters[spaceName] {
		if f.Name == spec.Name {
			return fmt.Errorf("%w: %q on %s", ErrFilterExists, spec.Name, spaceName)
		}
	}
	w.filters[spaceName] = append(w.filters[spaceName], spec)
	return nil
}

// replaceFilter swaps the filter named spec.Name in place and returns the
// previous one.
func (w *Watcher) replaceFilter(spaceName string, spec filter.Spec) (filter.Spec, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	specs := w.filters[spaceName]
	for i, f := range specs {
		if f.Name == spec.Name {
			specs[i] = spec
			return f, nil
		}
	}
	return filter.Spec{}, fmt.Errorf("%w: %q on %s", ErrFilterNotFound, spec.Name, spaceName)
}

func (w *Watcher) removeFilter(spaceName, name string) (filter.Spec, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	specs := w.filters[spaceName]
	for i, f := range specs {
		if f.Name == name {
			w.filters[spaceName] = append(specs[:i:i], specs[i+1:]...)
			if len(w.filters[spaceName]) == 0 {
				delete(w.filters, spaceName)
			}
			return f, nil
		}
	}
	return filter.Spec{}, fmt.Errorf("%w: %q on %s", ErrFilterNotFound, name, spaceName)
}

func (w *Watcher) attach(spaceName string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.attached[spaceName]; ok {
		return false
	}
	w.attached[spaceName] = struct{}{}
	return true
}

// detach forgets the space along with every filter declared on it.
func (w *Watcher) detach(spaceName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attached, spaceName)
	delete(w.filters, spaceName)
}
