package model

import (
	"reflect"
	"slices"
)

// SpaceUser is the presence record of one connection inside a space. ID is
// the space user id of that connection; AccountID is the user behind it, so
// two tabs of one account are two space users. JSON field names double as
// the field-mask vocabulary for partial updates.
type SpaceUser struct {
	ID                 int64    `json:"id"`
	AccountID          int64    `json:"accountId,omitempty"`
	UUID               string   `json:"uuid,omitempty"`
	Name               string   `json:"name"`
	Color              string   `json:"color,omitempty"`
	RoomName           string   `json:"roomName,omitempty"`
	VisitCardURL       string   `json:"visitCardUrl,omitempty"`
	Availability       int      `json:"availability,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	CameraState        bool     `json:"cameraState"`
	MicrophoneState    bool     `json:"microphoneState"`
	ScreenSharingState bool     `json:"screenSharingState"`
	MegaphoneState     bool     `json:"megaphoneState"`
	JitsiParticipantID string   `json:"jitsiParticipantId,omitempty"`
}

// Clone returns a copy that shares no memory with u.
func (u SpaceUser) Clone() SpaceUser {
	if u.Tags != nil {
		u.Tags = append([]string(nil), u.Tags...)
	}
	return u
}

// Equal reports whether u and o carry the same attributes. A nil and an
// empty tag list are equal.
func (u SpaceUser) Equal(o SpaceUser) bool {
	if !slices.Equal(u.Tags, o.Tags) {
		return false
	}
	u.Tags, o.Tags = nil, nil
	return reflect.DeepEqual(u, o)
}

func (u SpaceUser) HasTag(tag string) bool {
	for _, t := range u.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

const AdminTag = "admin"
