// Package backend is the authoritative side of the bridge. It keeps one
// presence table per space, fed by every gateway, and rebroadcasts accepted
// changes so each gateway can mirror the users it does not own.
package backend

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"spacehub/internal/bridge"
	"spacehub/internal/metrics"
	"spacehub/internal/model"
	"spacehub/internal/presence"
)

type spaceState struct {
	users    *presence.Users
	metadata map[string]any
	gateways map[string]struct{}
}

// Relay applies gateway mutations in arrival order. Messages are handled
// one at a time, so no mutation of a space interleaves with another.
type Relay struct {
	bridge *bridge.Bridge
	logger zerolog.Logger

	mu     sync.Mutex
	spaces map[string]*spaceState
}

func New(b *bridge.Bridge, logger zerolog.Logger) *Relay {
	return &Relay{
		bridge: b,
		logger: logger.With().Str("component", "relay").Logger(),
		spaces: make(map[string]*spaceState),
	}
}

// Listen subscribes the relay to everything gateways publish.
func (r *Relay) Listen() error {
	return r.bridge.Listen(bridge.SubjectToBackend, r.Handle)
}

func (r *Relay) Handle(msg bridge.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch msg.Type {
	case bridge.TypeJoinSpace:
		r.join(msg)
		return
	case bridge.TypeLeaveSpace:
		r.leave(msg)
		return
	}

	st, ok := r.spaces[msg.SpaceName]
	if !ok {
		// A gateway writes only to spaces it opened, so this is a late
		// message after the last leave.
		metrics.Dropped(metrics.ReasonUnknownSpace)
		r.logger.Warn().Str("space", msg.SpaceName).Str("type", msg.Type).Str("origin", msg.Origin).Msg("message for unknown space")
		return
	}

	var err error
	switch msg.Type {
	case bridge.TypeAddUser:
		if msg.User == nil {
			r.reject(msg, errMissingUser)
			return
		}
		_, err = st.users.Add(presence.NewRecord(*msg.User, ""))
	case bridge.TypeUpdateUser:
		if msg.User == nil {
			r.reject(msg, errMissingUser)
			return
		}
		_, err = st.users.Update(*msg.User, msg.UpdateMask)
	case bridge.TypeRemoveUser:
		_, err = st.users.Remove(msg.UserID)
	case bridge.TypeUpdateMetadata:
		for k, v := range msg.Metadata {
			st.metadata[k] = v
		}
	case bridge.TypePublicEvent, bridge.TypePrivateEvent:
	default:
		if !bridge.IsModeration(msg.Type) {
			r.reject(msg, errUnknownType)
			return
		}
	}
	if err != nil {
		r.reject(msg, err)
		return
	}
	r.bridge.Publish(bridge.SubjectToGateways, msg)
}

func (r *Relay) join(msg bridge.Message) {
	st, ok := r.spaces[msg.SpaceName]
	if !ok {
		st = &spaceState{
			users:    presence.NewUsers(),
			metadata: make(map[string]any),
			gateways: make(map[string]struct{}),
		}
		r.spaces[msg.SpaceName] = st
	}
	st.gateways[msg.Origin] = struct{}{}

	users := st.users.All()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	for _, rec := range users {
		u := rec.SpaceUser.Clone()
		r.bridge.Publish(bridge.SubjectToGateways, bridge.Message{
			Type:      bridge.TypeAddUser,
			SpaceName: msg.SpaceName,
			Origin:    r.bridge.ID(),
			Target:    msg.Origin,
			User:      &u,
		})
	}
	if len(st.metadata) > 0 {
		md := make(map[string]any, len(st.metadata))
		for k, v := range st.metadata {
			md[k] = v
		}
		r.bridge.Publish(bridge.SubjectToGateways, bridge.Message{
			Type:      bridge.TypeUpdateMetadata,
			SpaceName: msg.SpaceName,
			Origin:    r.bridge.ID(),
			Target:    msg.Origin,
			Metadata:  md,
		})
	}
	r.logger.Info().
		Str("space", msg.SpaceName).
		Str("gateway", msg.Origin).
		Int("users", len(users)).
		Msg("gateway joined space")
}

func (r *Relay) leave(msg bridge.Message) {
	st, ok := r.spaces[msg.SpaceName]
	if !ok {
		return
	}
	delete(st.gateways, msg.Origin)
	r.logger.Info().Str("space", msg.SpaceName).Str("gateway", msg.Origin).Msg("gateway left space")
	if len(st.gateways) == 0 {
		delete(r.spaces, msg.SpaceName)
		r.logger.Info().Str("space", msg.SpaceName).Int("users", st.users.Len()).Msg("space dropped")
	}
}

func (r *Relay) reject(msg bridge.Message, err error) {
	metrics.Dropped(metrics.ReasonRejectedAtRelay)
	r.logger.Error().Err(err).
		Str("space", msg.SpaceName).
		Str("type", msg.Type).
		Str("origin", msg.Origin).
		Msg("gateway message rejected")
}

// Users returns the authoritative users of a space, sorted by id.
func (r *Relay) Users(spaceName string) []model.SpaceUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.spaces[spaceName]
	if !ok {
		return nil
	}
	recs := st.users.All()
	out := make([]model.SpaceUser, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.SpaceUser)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Gateways returns the number of gateways watching spaceName.
func (r *Relay) Gateways(spaceName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.spaces[spaceName]; ok {
		return len(st.gateways)
	}
	return 0
}
