package backend

import "errors"

var (
	errMissingUser = errors.New("message carries no user")
	errUnknownType = errors.New("unknown message type")
)
