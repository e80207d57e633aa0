package domain

import "errors"

type ShareKind string

const (
	ShareFiles ShareKind = "files"
	ShareText  ShareKind = "text"
)

type File struct {
	Name string `json:"name" msgpack:"name"`
	Type string `json:"type" msgpack:"type"`
	Data []byte `json:"data" msgpack:"data"`
}

// ShareRequest is a transient relay instruction issued by a connected member.
type ShareRequest struct {
	From    string
	RoomKey RoomKey
	To      []string
	Files   []File
	Text    string
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Outcome is the acknowledgement payload returned to the sender of a share.
type Outcome struct {
	Status string `json:"status" msgpack:"status"`
	Error  string `json:"error,omitempty" msgpack:"error,omitempty"`
}

func OutcomeOK() Outcome {
	return Outcome{Status: StatusOK}
}

func OutcomeFor(err error) Outcome {
	if err == nil {
		return OutcomeOK()
	}
	return Outcome{Status: StatusError, Error: ErrorCode(err)}
}

func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// ErrorCode maps a domain error to the stable code sent over the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNoRecipients):
		return "no_recipients"
	case errors.Is(err, ErrForbiddenRecipient):
		return "forbidden_recipient"
	case errors.Is(err, ErrInvalidInput):
		return "bad_request"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrKeyspaceExhausted):
		return "keyspace_exhausted"
	case errors.Is(err, ErrAlreadyInRoom):
		return "already_in_room"
	default:
		return "internal"
	}
}
