package space

import (
	"encoding/json"

	"spacehub/internal/bridge"
	"spacehub/internal/hub"
	"spacehub/internal/message"
	"spacehub/internal/metrics"
)

// SendPublicEvent delivers event to every present local user except the
// sender, watching or not, and forwards it so sibling gateways do the same
// for their users.
func (s *Space) SendPublicEvent(senderID int64, event json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	s.stream.Write(bridge.Message{Type: bridge.TypePublicEvent, SenderUserID: senderID, Event: event})
	s.deliverToPresent(s.publicEvent(senderID, event), senderID)
	return nil
}

func (s *Space) LocalPublicEvent(senderID int64, event json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.deliverToPresent(s.publicEvent(senderID, event), senderID)
}

func (s *Space) publicEvent(senderID int64, event json.RawMessage) message.Server {
	return message.Server{
		Type:         message.TypePublicEvent,
		SpaceName:    s.localName,
		SenderUserID: senderID,
		Event:        event,
	}
}

// SendPrivateEvent delivers event to receiverID. A receiver connected to a
// sibling gateway is reached through the backend; an unknown receiver is
// logged and dropped.
func (s *Space) SendPrivateEvent(senderID, receiverID int64, event json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	msg := message.Server{
		Type:           message.TypePrivateEvent,
		SpaceName:      s.localName,
		SenderUserID:   senderID,
		ReceiverUserID: receiverID,
		Event:          event,
	}
	s.deliverTo(receiverID, msg, bridge.Message{
		Type:           bridge.TypePrivateEvent,
		SenderUserID:   senderID,
		ReceiverUserID: receiverID,
		Event:          event,
	})
	return nil
}

func (s *Space) LocalPrivateEvent(senderID, receiverID int64, event json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.deliverLocal(receiverID, message.Server{
		Type:           message.TypePrivateEvent,
		SpaceName:      s.localName,
		SenderUserID:   senderID,
		ReceiverUserID: receiverID,
		Event:          event,
	})
}

// ModerationVariant picks the message a moderation command turns into for
// a sender with or without the admin tag. ok is false when the command must
// be dropped.
func ModerationVariant(command string, admin bool) (variant string, ok bool) {
	switch command {
	case message.TypeMuteMicrophone:
		if admin {
			return message.TypeMuteMicrophone, true
		}
		return message.TypeAskMuteMicrophone, true
	case message.TypeMuteVideo:
		if admin {
			return message.TypeMuteVideo, true
		}
		return message.TypeAskMuteVideo, true
	case message.TypeKickOff, message.TypeMuteMicrophoneEverybody, message.TypeMuteVideoEverybody:
		return command, admin
	}
	return "", false
}

func isBroadcastModeration(variant string) bool {
	return variant == message.TypeMuteMicrophoneEverybody || variant == message.TypeMuteVideoEverybody
}

// Moderate routes a moderation command from sender. Privilege decides which
// variant is emitted; hard commands from non-admins are dropped.
func (s *Space) Moderate(sender *hub.Connection, command string, targetID int64) error {
	variant, ok := ModerationVariant(command, sender.IsAdmin())
	if !ok {
		metrics.Dropped(metrics.ReasonPermission)
		s.logger.Warn().
			Str("conn", sender.ID).
			Int64("sender", sender.SpaceUserID).
			Str("command", command).
			Msg("moderation command dropped")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	msg := s.moderationMessage(variant, sender.SpaceUserID, targetID)
	fwd := bridge.Message{Type: variant, SenderUserID: sender.SpaceUserID, UserID: targetID}
	if isBroadcastModeration(variant) {
		s.stream.Write(fwd)
		s.deliverToPresent(msg, sender.SpaceUserID)
		return nil
	}
	s.deliverTo(targetID, msg, fwd)
	return nil
}

// LocalModeration delivers a moderation variant that was already selected
// by the gateway of the sender.
func (s *Space) LocalModeration(variant string, senderID, targetID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	msg := s.moderationMessage(variant, senderID, targetID)
	if isBroadcastModeration(variant) {
		s.deliverToPresent(msg, senderID)
		return
	}
	s.deliverLocal(targetID, msg)
}

func (s *Space) moderationMessage(variant string, senderID, targetID int64) message.Server {
	return message.Server{
		Type:         variant,
		SpaceName:    s.localName,
		UserID:       targetID,
		SenderUserID: senderID,
	}
}

// deliverToPresent sends msg to every present user owning a live local
// connection, except exceptID.
func (s *Space) deliverToPresent(msg message.Server, exceptID int64) {
	for _, rec := range s.users.All() {
		if rec.ID == exceptID || rec.ConnectionID == "" {
			continue
		}
		conn, ok := s.conns.Get(rec.ConnectionID)
		if !ok {
			continue
		}
		if err := conn.Emit(msg); err != nil {
			s.logger.Warn().Err(err).Int64("user", rec.ID).Str("type", msg.Type).Msg("event not delivered")
		}
	}
}

// deliverTo sends msg to a local receiver, or forwards fwd to the backend
// when the receiver is present through a sibling gateway.
func (s *Space) deliverTo(receiverID int64, msg message.Server, fwd bridge.Message) {
	rec, ok := s.users.Get(receiverID)
	if !ok {
		metrics.Dropped(metrics.ReasonUnknownUser)
		s.logger.Warn().Int64("receiver", receiverID).Str("type", msg.Type).Msg("receiver not in space, dropped")
		return
	}
	if rec.ConnectionID == "" {
		s.stream.Write(fwd)
		return
	}
	s.deliverLocal(receiverID, msg)
}

func (s *Space) deliverLocal(receiverID int64, msg message.Server) {
	rec, ok := s.users.Get(receiverID)
	if !ok {
		metrics.Dropped(metrics.ReasonUnknownUser)
		s.logger.Debug().Int64("receiver", receiverID).Str("type", msg.Type).Msg("receiver not in space, dropped")
		return
	}
	if rec.ConnectionID == "" {
		// Owned by a sibling gateway, which delivers it.
		return
	}
	conn, ok := s.conns.Get(rec.ConnectionID)
	if !ok {
		metrics.Dropped(metrics.ReasonNoConnection)
		s.logger.Debug().Int64("receiver", receiverID).Str("type", msg.Type).Msg("receiver has no live connection, dropped")
		return
	}
	if err := conn.Emit(msg); err != nil {
		s.logger.Warn().Err(err).Int64("receiver", receiverID).Str("type", msg.Type).Msg("event not delivered")
	}
}
