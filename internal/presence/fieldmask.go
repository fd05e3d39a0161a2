package presence

import (
	"errors"
	"fmt"
	"strings"

	"spacehub/internal/model"
)

var (
	ErrUnknownField   = errors.New("unknown field in update mask")
	ErrImmutableField = errors.New("field cannot be updated")
)

// applyMask copies the masked fields of src into dst. Fields not named in
// the mask are left untouched, including zero values present in src.
func applyMask(dst *model.SpaceUser, src model.SpaceUser, mask []string) error {
	for _, field := range mask {
		switch field {
		case "id", "accountId":
			return fmt.Errorf("%w: %s", ErrImmutableField, field)
		case "uuid":
			dst.UUID = src.UUID
		case "name":
			dst.Name = src.Name
		case "color":
			dst.Color = src.Color
		case "roomName":
			dst.RoomName = src.RoomName
		case "visitCardUrl":
			dst.VisitCardURL = src.VisitCardURL
		case "availability":
			dst.Availability = src.Availability
		case "tags":
			dst.Tags = append([]string(nil), src.Tags...)
		case "cameraState":
			dst.CameraState = src.CameraState
		case "microphoneState":
			dst.MicrophoneState = src.MicrophoneState
		case "screenSharingState":
			dst.ScreenSharingState = src.ScreenSharingState
		case "megaphoneState":
			dst.MegaphoneState = src.MegaphoneState
		case "jitsiParticipantId":
			dst.JitsiParticipantID = src.JitsiParticipantID
		default:
			return fmt.Errorf("%w: %q", ErrUnknownField, field)
		}
	}
	return nil
}

// ValidateMask reports whether every entry of mask names an updatable field.
func ValidateMask(mask []string) error {
	var scratch model.SpaceUser
	return applyMask(&scratch, model.SpaceUser{}, mask)
}

func maskHas(mask []string, field string) bool {
	for _, f := range mask {
		if f == field {
			return true
		}
	}
	return false
}

func lowercase(name string) string {
	return strings.ToLower(name)
}
