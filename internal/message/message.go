// Package message defines the JSON frames exchanged with client connections.
package message

import (
	"encoding/json"

	"spacehub/internal/filter"
	"spacehub/internal/model"
)

// Client -> server types.
const (
	TypeJoinSpace           = "joinSpace"
	TypeLeaveSpace          = "leaveSpace"
	TypeWatchSpace          = "watchSpace"
	TypeUnwatchSpace        = "unwatchSpace"
	TypeAddSpaceFilter      = "addSpaceFilter"
	TypeUpdateSpaceFilter   = "updateSpaceFilter"
	TypeRemoveSpaceFilter   = "removeSpaceFilter"
	TypePing                = "ping"
	TypeUpdateSpaceMetadata = "updateSpaceMetadata"
)

// Types used in both directions.
const (
	TypeUpdateSpaceUser = "updateSpaceUser"
	TypePublicEvent     = "publicEvent"
	TypePrivateEvent    = "privateEvent"

	TypeKickOff                 = "kickOff"
	TypeMuteMicrophone          = "muteMicrophone"
	TypeMuteVideo               = "muteVideo"
	TypeMuteMicrophoneEverybody = "muteMicrophoneEverybody"
	TypeMuteVideoEverybody      = "muteVideoEverybody"
)

// Server -> client types.
const (
	TypeAddSpaceUser      = "addSpaceUser"
	TypeRemoveSpaceUser   = "removeSpaceUser"
	TypeAskMuteMicrophone = "askMuteMicrophone"
	TypeAskMuteVideo      = "askMuteVideo"
	TypeError             = "error"
	TypePong              = "pong"
	// TypeWelcome is the first frame of a connection; UserID carries its
	// space user id.
	TypeWelcome = "welcome"
	// TypeBatch wraps frames that were queued together; Batch holds them
	// in order.
	TypeBatch = "batch"
)

// Client is a frame received from a connection.
type Client struct {
	Type           string           `json:"type"`
	SpaceName      string           `json:"spaceName,omitempty"`
	User           *model.SpaceUser `json:"user,omitempty"`
	UpdateMask     []string         `json:"updateMask,omitempty"`
	Filter         *filter.Wire     `json:"filter,omitempty"`
	FilterName     string           `json:"filterName,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Event          json.RawMessage  `json:"event,omitempty"`
	ReceiverUserID int64            `json:"receiverUserId,omitempty"`
	UserID         int64            `json:"userId,omitempty"`
}

// Server is a frame sent to a connection. SpaceName is always the local
// space name.
type Server struct {
	Type           string            `json:"type"`
	SpaceName      string            `json:"spaceName,omitempty"`
	FilterName     string            `json:"filterName,omitempty"`
	User           *model.SpaceUser  `json:"user,omitempty"`
	UserID         int64             `json:"userId,omitempty"`
	UpdateMask     []string          `json:"updateMask,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	Event          json.RawMessage   `json:"event,omitempty"`
	SenderUserID   int64             `json:"senderUserId,omitempty"`
	ReceiverUserID int64             `json:"receiverUserId,omitempty"`
	Message        string            `json:"message,omitempty"`
	Batch          []json.RawMessage `json:"batch,omitempty"`
}

func Error(spaceName string, err error) Server {
	return Server{Type: TypeError, SpaceName: spaceName, Message: err.Error()}
}
