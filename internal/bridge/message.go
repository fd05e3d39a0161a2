package bridge

import (
	"encoding/json"

	"spacehub/internal/message"
	"spacehub/internal/model"
)

// Subjects shared by every gateway and the backend. One physical connection
// carries all spaces; SpaceName routes each message.
const (
	SubjectToBackend  = "spacehub.back"
	SubjectToGateways = "spacehub.gateways"
)

const (
	TypeJoinSpace      = "joinSpace"
	TypeLeaveSpace     = "leaveSpace"
	TypeAddUser        = "addSpaceUser"
	TypeUpdateUser     = "updateSpaceUser"
	TypeRemoveUser     = "removeSpaceUser"
	TypeUpdateMetadata = "updateSpaceMetadata"

	TypePublicEvent  = message.TypePublicEvent
	TypePrivateEvent = message.TypePrivateEvent
)

// Message is the mutation vocabulary of the backend stream. SpaceName is
// always the prefixed (backend) name.
type Message struct {
	Type      string `json:"type"`
	SpaceName string `json:"spaceName"`
	// Origin is the gateway that produced the message.
	Origin string `json:"origin,omitempty"`
	// Target restricts delivery to a single gateway when set.
	Target string `json:"target,omitempty"`

	User           *model.SpaceUser `json:"user,omitempty"`
	UserID         int64            `json:"userId,omitempty"`
	UpdateMask     []string         `json:"updateMask,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Event          json.RawMessage  `json:"event,omitempty"`
	SenderUserID   int64            `json:"senderUserId,omitempty"`
	ReceiverUserID int64            `json:"receiverUserId,omitempty"`
}

// IsModeration reports whether t is one of the moderation variants.
func IsModeration(t string) bool {
	switch t {
	case message.TypeKickOff,
		message.TypeMuteMicrophone, message.TypeAskMuteMicrophone,
		message.TypeMuteVideo, message.TypeAskMuteVideo,
		message.TypeMuteMicrophoneEverybody, message.TypeMuteVideoEverybody:
		return true
	}
	return false
}
