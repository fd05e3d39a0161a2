package space

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"spacehub/internal/bridge"
	"spacehub/internal/hub"
	"spacehub/internal/metrics"
)

var (
	ErrSpaceAlreadyExists = errors.New("space already exists")
	ErrSpaceDoesNotExist  = errors.New("space does not exist")
)

// Registry owns the spaces of one gateway process. It is built explicitly
// and handed to the connection handling code.
type Registry struct {
	bridge *bridge.Bridge
	conns  *hub.Hub
	logger zerolog.Logger

	mu     sync.RWMutex
	spaces map[string]*Space
}

func NewRegistry(b *bridge.Bridge, conns *hub.Hub, logger zerolog.Logger) *Registry {
	return &Registry{
		bridge: b,
		conns:  conns,
		logger: logger.With().Str("component", "spaces").Logger(),
		spaces: make(map[string]*Space),
	}
}

// JoinSpace creates the space and opens its backend stream.
func (r *Registry) JoinSpace(name, localName string) (*Space, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(name, localName)
}

func (r *Registry) joinLocked(name, localName string) (*Space, error) {
	if _, ok := r.spaces[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSpaceAlreadyExists, name)
	}
	sp := newSpace(name, localName, r.bridge.Open(name), r.conns, r.logger)
	r.spaces[name] = sp
	metrics.Spaces.Inc()
	r.logger.Info().Str("space", name).Str("local", localName).Msg("space created")
	return sp, nil
}

// LeaveSpace closes the space and forgets it.
func (r *Registry) LeaveSpace(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(name)
}

func (r *Registry) leaveLocked(name string) error {
	sp, ok := r.spaces[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSpaceDoesNotExist, name)
	}
	delete(r.spaces, name)
	sp.close()
	metrics.Spaces.Dec()
	r.logger.Info().Str("space", name).Msg("space destroyed")
	return nil
}

func (r *Registry) Get(name string) (*Space, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sp, ok := r.spaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpaceDoesNotExist, name)
	}
	return sp, nil
}

func (r *Registry) Exist(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.spaces[name]
	return ok
}

// GetAll returns every space sorted by name.
func (r *Registry) GetAll() []*Space {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Space, 0, len(r.spaces))
	for _, sp := range r.spaces {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Destroy closes every space and empties the registry.
func (r *Registry) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.spaces {
		_ = r.leaveLocked(name)
	}
}

// Watch attaches w to the space, creating the space first when this is the
// first watcher.
func (r *Registry) Watch(name, localName string, w *Watcher) (*Space, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.spaces[name]
	if !ok {
		var err error
		if sp, err = r.joinLocked(name, localName); err != nil {
			return nil, err
		}
	}
	sp.AddWatcher(w)
	return sp, nil
}

// Unwatch detaches w and leaves the space once nobody watches it anymore.
// A watcher that is not attached keeps its declared filters.
func (r *Registry) Unwatch(name string, w *Watcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.spaces[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSpaceDoesNotExist, name)
	}
	if !w.IsAttached(name) {
		return nil
	}
	sp.RemoveWatcher(w)
	if sp.WatcherCount() == 0 {
		return r.leaveLocked(name)
	}
	return nil
}

// SpaceDump is the operational view of a space. It never carries user
// attributes.
type SpaceDump struct {
	Name      string `json:"name"`
	LocalName string `json:"localName"`
	Users     int    `json:"users"`
	Watchers  int    `json:"watchers"`
}

func (r *Registry) Dump() []SpaceDump {
	spaces := r.GetAll()
	out := make([]SpaceDump, 0, len(spaces))
	for _, sp := range spaces {
		sp.mu.Lock()
		out = append(out, SpaceDump{
			Name:      sp.name,
			LocalName: sp.localName,
			Users:     sp.users.Len(),
			Watchers:  len(sp.watchers),
		})
		sp.mu.Unlock()
	}
	return out
}
