package gateway

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"spacehub/internal/filter"
	"spacehub/internal/hub"
	"spacehub/internal/message"
	"spacehub/internal/model"
	"spacehub/internal/space"
)

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrMissingSpace   = errors.New("spaceName is required")
	ErrNotJoined      = errors.New("not a member of this space")
	ErrAlreadyJoined  = errors.New("already a member of this space")
	ErrStillJoined    = errors.New("leave the space before unwatching it")
	ErrMissingPayload = errors.New("message is missing its payload")
	ErrReadOnlyField  = errors.New("field cannot be changed by its owner")
)

// session is the per-connection state. It is only touched by the read loop
// of its connection.
type session struct {
	reg     *space.Registry
	conn    *hub.Connection
	watcher *space.Watcher
	joined  map[string]struct{}
	logger  zerolog.Logger
}

func newSession(reg *space.Registry, conn *hub.Connection, logger zerolog.Logger) *session {
	return &session{
		reg:     reg,
		conn:    conn,
		watcher: space.NewWatcher(conn),
		joined:  make(map[string]struct{}),
		logger: logger.With().
			Str("conn", conn.ID).
			Int64("user", conn.UserID).
			Int64("spaceUser", conn.SpaceUserID).
			Str("world", conn.World).
			Logger(),
	}
}

func (s *session) handle(msg message.Client) {
	if err := s.dispatch(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Str("space", msg.SpaceName).Msg("request rejected")
		_ = s.conn.Emit(message.Error(msg.SpaceName, err))
	}
}

func (s *session) dispatch(msg message.Client) error {
	if msg.Type == message.TypePing {
		return s.conn.Emit(message.Server{Type: message.TypePong})
	}
	if msg.SpaceName == "" {
		return fmt.Errorf("%w: %s", ErrMissingSpace, msg.Type)
	}
	name := space.PrefixedName(s.conn.World, msg.SpaceName)

	switch msg.Type {
	case message.TypeJoinSpace:
		return s.join(name, msg)
	case message.TypeLeaveSpace:
		return s.leave(name)
	case message.TypeWatchSpace:
		_, err := s.reg.Watch(name, msg.SpaceName, s.watcher)
		return err
	case message.TypeUnwatchSpace:
		if _, ok := s.joined[name]; ok {
			return ErrStillJoined
		}
		return s.reg.Unwatch(name, s.watcher)

	case message.TypeAddSpaceFilter:
		if msg.Filter == nil {
			return ErrMissingPayload
		}
		spec, err := filter.Decode(*msg.Filter)
		if err != nil {
			return err
		}
		sp, err := s.reg.Get(name)
		if err != nil {
			// Not watched yet: remembered and replayed on watch.
			return s.watcher.Declare(name, spec)
		}
		return sp.HandleAddFilter(s.watcher, spec)
	case message.TypeUpdateSpaceFilter:
		if msg.Filter == nil {
			return ErrMissingPayload
		}
		spec, err := filter.Decode(*msg.Filter)
		if err != nil {
			return err
		}
		sp, err := s.reg.Get(name)
		if err != nil {
			return s.watcher.Redeclare(name, spec)
		}
		return sp.HandleUpdateFilter(s.watcher, spec)
	case message.TypeRemoveSpaceFilter:
		sp, err := s.reg.Get(name)
		if err != nil {
			return s.watcher.Undeclare(name, msg.FilterName)
		}
		return sp.HandleRemoveFilter(s.watcher, msg.FilterName)
	}

	sp, err := s.member(name)
	if err != nil {
		return err
	}
	switch msg.Type {
	case message.TypeUpdateSpaceUser:
		if msg.User == nil {
			return ErrMissingPayload
		}
		for _, field := range msg.UpdateMask {
			if field == "tags" {
				return fmt.Errorf("%w: %s", ErrReadOnlyField, field)
			}
		}
		partial := msg.User.Clone()
		partial.ID = s.conn.SpaceUserID
		return sp.UpdateUser(partial, msg.UpdateMask)
	case message.TypeUpdateSpaceMetadata:
		if len(msg.Metadata) == 0 {
			return ErrMissingPayload
		}
		return sp.UpdateMetadata(msg.Metadata)
	case message.TypePublicEvent:
		return sp.SendPublicEvent(s.conn.SpaceUserID, msg.Event)
	case message.TypePrivateEvent:
		return sp.SendPrivateEvent(s.conn.SpaceUserID, msg.ReceiverUserID, msg.Event)
	case message.TypeKickOff, message.TypeMuteMicrophone, message.TypeMuteVideo,
		message.TypeMuteMicrophoneEverybody, message.TypeMuteVideoEverybody:
		return sp.Moderate(s.conn, msg.Type, msg.UserID)
	}
	return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
}

func (s *session) member(name string) (*space.Space, error) {
	if _, ok := s.joined[name]; !ok {
		return nil, ErrNotJoined
	}
	return s.reg.Get(name)
}

// join makes the connection's user present in the space and watches it.
// Identity fields come from the token; the client may only supply the rest.
func (s *session) join(name string, msg message.Client) error {
	if _, ok := s.joined[name]; ok {
		return ErrAlreadyJoined
	}
	var user model.SpaceUser
	if msg.User != nil {
		user = msg.User.Clone()
	}
	user.ID = s.conn.SpaceUserID
	user.AccountID = s.conn.UserID
	user.Name = s.conn.Name
	user.Tags = append([]string(nil), s.conn.Tags...)

	sp, err := s.reg.Watch(name, msg.SpaceName, s.watcher)
	if err != nil {
		return err
	}
	if err := sp.AddUser(user, s.conn); err != nil {
		return err
	}
	s.joined[name] = struct{}{}
	return nil
}

func (s *session) leave(name string) error {
	sp, err := s.member(name)
	if err != nil {
		return err
	}
	delete(s.joined, name)
	if err := sp.RemoveUser(s.conn.SpaceUserID); err != nil {
		return err
	}
	return s.reg.Unwatch(name, s.watcher)
}

// close removes the user from every joined space, then stops watching.
func (s *session) close() {
	for name := range s.joined {
		if sp, err := s.reg.Get(name); err == nil {
			if err := sp.RemoveUser(s.conn.SpaceUserID); err != nil {
				s.logger.Warn().Err(err).Str("space", name).Msg("remove on disconnect failed")
			}
		}
		delete(s.joined, name)
	}
	for _, name := range s.watcher.Attached() {
		if err := s.reg.Unwatch(name, s.watcher); err != nil {
			s.logger.Warn().Err(err).Str("space", name).Msg("unwatch on disconnect failed")
		}
	}
}
