package space

import (
	"errors"

	"spacehub/internal/bridge"
	"spacehub/internal/metrics"
	"spacehub/internal/presence"
)

// Listen subscribes the registry to the backend-to-gateway stream.
func (r *Registry) Listen() error {
	return r.bridge.Listen(bridge.SubjectToGateways, r.HandleBackMessage)
}

// HandleBackMessage applies a backend-originated message through the same
// local path that local mutations use. Messages this gateway produced were
// already applied and are skipped. Nobody waits on the result, so failures
// are logged and counted.
func (r *Registry) HandleBackMessage(msg bridge.Message) {
	self := r.bridge.ID()
	if msg.Origin == self || (msg.Target != "" && msg.Target != self) {
		return
	}
	sp, err := r.Get(msg.SpaceName)
	if err != nil {
		metrics.Dropped(metrics.ReasonUnknownSpace)
		r.logger.Debug().Str("space", msg.SpaceName).Str("type", msg.Type).Msg("message for unwatched space ignored")
		return
	}

	switch msg.Type {
	case bridge.TypeAddUser:
		if msg.User == nil {
			r.malformed(msg)
			return
		}
		err = sp.LocalAddUser(*msg.User, "")
		if errors.Is(err, presence.ErrUserExists) && sp.holds(*msg.User) {
			// The join snapshot and the rebroadcast of the same add can
			// both arrive; the second one is already applied.
			r.logger.Debug().Str("space", msg.SpaceName).Int64("user", msg.User.ID).Msg("duplicate add ignored")
			return
		}
	case bridge.TypeUpdateUser:
		if msg.User == nil {
			r.malformed(msg)
			return
		}
		err = sp.LocalUpdateUser(*msg.User, msg.UpdateMask)
	case bridge.TypeRemoveUser:
		err = sp.LocalRemoveUser(msg.UserID)
	case bridge.TypeUpdateMetadata:
		err = sp.LocalUpdateMetadata(msg.Metadata)
	case bridge.TypePublicEvent:
		sp.LocalPublicEvent(msg.SenderUserID, msg.Event)
	case bridge.TypePrivateEvent:
		sp.LocalPrivateEvent(msg.SenderUserID, msg.ReceiverUserID, msg.Event)
	default:
		if !bridge.IsModeration(msg.Type) {
			r.malformed(msg)
			return
		}
		sp.LocalModeration(msg.Type, msg.SenderUserID, msg.UserID)
	}

	if err != nil {
		reason := metrics.ReasonDecode
		if errors.Is(err, presence.ErrUserNotFound) || errors.Is(err, presence.ErrUserExists) {
			reason = metrics.ReasonUnknownUser
		}
		metrics.Dropped(reason)
		r.logger.Error().Err(err).
			Str("space", msg.SpaceName).
			Str("type", msg.Type).
			Str("origin", msg.Origin).
			Msg("backend mutation not applied")
	}
}

func (r *Registry) malformed(msg bridge.Message) {
	metrics.Dropped(metrics.ReasonDecode)
	r.logger.Error().Str("space", msg.SpaceName).Str("type", msg.Type).Msg("malformed backend message")
}
