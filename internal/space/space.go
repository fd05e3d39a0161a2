// Package space tracks who is present in each space, which connections
// watch it through which filters, and fans membership changes out to them.
package space

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"spacehub/internal/bridge"
	"spacehub/internal/filter"
	"spacehub/internal/hub"
	"spacehub/internal/message"
	"spacehub/internal/model"
	"spacehub/internal/presence"
)

var ErrSpaceClosed = errors.New("space closed")

// PrefixedName is the backend name of a space seen locally as localName.
func PrefixedName(world, localName string) string {
	return world + "." + localName
}

// Space is one logical group. Every handler holds mu from the registry
// change through the last enqueued notification, so notifications for a
// space leave in the order its mutations were applied.
type Space struct {
	name      string
	localName string
	stream    *bridge.Stream
	conns     *hub.Hub
	logger    zerolog.Logger

	mu       sync.Mutex
	users    *presence.Users
	metadata map[string]any
	watchers map[string]*Watcher
	closed   bool
}

func newSpace(name, localName string, stream *bridge.Stream, conns *hub.Hub, logger zerolog.Logger) *Space {
	return &Space{
		name:      name,
		localName: localName,
		stream:    stream,
		conns:     conns,
		logger:    logger.With().Str("space", name).Logger(),
		users:     presence.NewUsers(),
		metadata:  make(map[string]any),
		watchers:  make(map[string]*Watcher),
	}
}

func (s *Space) Name() string      { return s.name }
func (s *Space) LocalName() string { return s.localName }

// IsEmpty is advisory only; spaces are never collected automatically.
func (s *Space) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.Len() == 0
}

func (s *Space) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.Len()
}

func (s *Space) WatcherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func (s *Space) User(id int64) (presence.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.Get(id)
}

func (s *Space) Users() []presence.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.All()
}

func (s *Space) Metadata() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMetadata(s.metadata)
}

// AddWatcher attaches w and replays an add for every present user matched
// by a filter w already declared on this space, followed by the current
// metadata.
func (s *Space) AddWatcher(w *Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !w.attach(s.name) {
		return
	}
	s.watchers[w.ID()] = w

	filters := w.Filters(s.name)
	for _, rec := range s.users.All() {
		if !filter.AnyMatches(filters, rec) {
			continue
		}
		for _, f := range filters {
			if f.Matches(rec) {
				s.emitAdd(w, rec, f.Name)
			}
		}
	}
	if len(s.metadata) > 0 {
		s.emit(w, message.Server{
			Type:      message.TypeUpdateSpaceMetadata,
			SpaceName: s.localName,
			Metadata:  copyMetadata(s.metadata),
		})
	}
	s.logger.Debug().Str("conn", w.ID()).Int("filters", len(filters)).Msg("watcher added")
}

// RemoveWatcher detaches w and drops its filters on this space. Membership
// is untouched.
func (s *Space) RemoveWatcher(w *Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchers[w.ID()]; !ok {
		return
	}
	delete(s.watchers, w.ID())
	w.detach(s.name)
	s.logger.Debug().Str("conn", w.ID()).Msg("watcher removed")
}

// AddUser forwards the add to the backend, then applies it locally.
// conn is the owning local connection, or nil.
func (s *Space) AddUser(user model.SpaceUser, conn *hub.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	u := user.Clone()
	s.stream.Write(bridge.Message{Type: bridge.TypeAddUser, User: &u})
	s.logger.Debug().Int64("user", user.ID).Msg("user add sent")

	connID := ""
	if conn != nil {
		connID = conn.ID
	}
	return s.localAddUser(user, connID)
}

func (s *Space) LocalAddUser(user model.SpaceUser, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	return s.localAddUser(user, connectionID)
}

func (s *Space) localAddUser(user model.SpaceUser, connectionID string) error {
	change, err := s.users.Add(presence.NewRecord(user, connectionID))
	if err != nil {
		s.logger.Debug().Err(err).Int64("user", user.ID).Msg("add user rejected")
		return err
	}
	s.logger.Debug().Int64("user", user.ID).Msg("user added")
	s.notifyAdd(change.New)
	return nil
}

// UpdateUser forwards the partial update to the backend, then merges the
// masked fields locally. A mask naming unknown fields is rejected before
// anything is sent.
func (s *Space) UpdateUser(partial model.SpaceUser, mask []string) error {
	if err := presence.ValidateMask(mask); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	u := partial.Clone()
	s.stream.Write(bridge.Message{
		Type:       bridge.TypeUpdateUser,
		User:       &u,
		UpdateMask: append([]string(nil), mask...),
	})
	return s.localUpdateUser(partial, mask)
}

func (s *Space) LocalUpdateUser(partial model.SpaceUser, mask []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	return s.localUpdateUser(partial, mask)
}

func (s *Space) localUpdateUser(partial model.SpaceUser, mask []string) error {
	change, err := s.users.Update(partial, mask)
	if err != nil {
		s.logger.Debug().Err(err).Int64("user", partial.ID).Strs("mask", mask).Msg("update user rejected")
		return err
	}
	s.logger.Debug().Int64("user", partial.ID).Strs("mask", mask).Msg("user updated")
	s.notifyUpdate(change, mask)
	return nil
}

// RemoveUser forwards the removal to the backend, then applies it locally.
func (s *Space) RemoveUser(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	s.stream.Write(bridge.Message{Type: bridge.TypeRemoveUser, UserID: id})
	s.logger.Debug().Int64("user", id).Msg("user remove sent")
	return s.localRemoveUser(id)
}

func (s *Space) LocalRemoveUser(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	return s.localRemoveUser(id)
}

func (s *Space) localRemoveUser(id int64) error {
	change, err := s.users.Remove(id)
	if err != nil {
		s.logger.Debug().Err(err).Int64("user", id).Msg("remove user rejected")
		return err
	}
	s.logger.Debug().Int64("user", id).Msg("user removed")
	s.notifyRemove(change.Old)
	return nil
}

// UpdateMetadata forwards the metadata change, merges it into the space
// metadata and notifies every watcher regardless of filters.
func (s *Space) UpdateMetadata(metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	s.stream.Write(bridge.Message{Type: bridge.TypeUpdateMetadata, Metadata: copyMetadata(metadata)})
	s.localUpdateMetadata(metadata)
	return nil
}

func (s *Space) LocalUpdateMetadata(metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	s.localUpdateMetadata(metadata)
	return nil
}

func (s *Space) localUpdateMetadata(metadata map[string]any) {
	for k, v := range metadata {
		s.metadata[k] = v
	}
	for _, w := range s.watchers {
		s.emit(w, message.Server{
			Type:      message.TypeUpdateSpaceMetadata,
			SpaceName: s.localName,
			Metadata:  copyMetadata(metadata),
		})
	}
}

// close detaches every watcher and closes the backend stream.
func (s *Space) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, w := range s.watchers {
		w.detach(s.name)
		delete(s.watchers, id)
	}
	s.stream.Close()
	s.logger.Debug().Msg("space closed")
}

func (s *Space) emit(w *Watcher, msg message.Server) {
	if err := w.Conn.Emit(msg); err != nil {
		s.logger.Warn().Err(err).Str("conn", w.ID()).Str("type", msg.Type).Msg("notification not delivered")
	}
}

// holds reports whether user is present with exactly these attributes.
func (s *Space) holds(user model.SpaceUser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users.Get(user.ID)
	return ok && rec.SpaceUser.Equal(user)
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
