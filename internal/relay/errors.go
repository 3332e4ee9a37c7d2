package relay

import "errors"

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingUsers     = errors.New("chat.users not defined")
	ErrMissingRoom      = errors.New("room key not defined")
	ErrMissingUserID    = errors.New("user id not defined")
	ErrUnknownEvent     = errors.New("unknown event")

	ErrUnknownConnection = errors.New("unknown connection")
)
