package ws

import (
	"sync"

	"github.com/hilthontt/roomdrop/internal/domain"
)

// WSMessage is an outbound frame. The same message may be queued to many
// clients; it is encoded at most once per codec.
type WSMessage struct {
	Event string `json:"event" msgpack:"event"`
	Ack   uint64 `json:"ack,omitempty" msgpack:"ack,omitempty"`
	Data  any    `json:"data,omitempty" msgpack:"data,omitempty"`

	mu      sync.Mutex
	encoded map[string][]byte
}

func (m *WSMessage) Encode(codec Codec) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data, ok := m.encoded[codec.Name()]; ok {
		return data, nil
	}

	data, err := codec.Marshal(m)
	if err != nil {
		return nil, err
	}
	if m.encoded == nil {
		m.encoded = make(map[string][]byte, 2)
	}
	m.encoded[codec.Name()] = data

	return data, nil
}

// Payload structs
type UserPayload struct {
	Key  domain.RoomKey `json:"key" msgpack:"key"`
	User domain.Member  `json:"user" msgpack:"user"`
}

type UsersPayload struct {
	Users []domain.Member `json:"users" msgpack:"users"`
}

type FilesPayload struct {
	Files []domain.File `json:"files" msgpack:"files"`
}

type TextPayload struct {
	Text string `json:"text" msgpack:"text"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty" msgpack:"code,omitempty"`
	Message string `json:"message" msgpack:"message"`
}

func NewUserUpdate(key domain.RoomKey, user domain.Member) *WSMessage {
	return &WSMessage{
		Event: UserUpdateEvent,
		Data:  UserPayload{Key: key, User: user},
	}
}

func NewUsersUpdate(users []domain.Member) *WSMessage {
	if users == nil {
		users = []domain.Member{}
	}
	return &WSMessage{
		Event: UsersUpdateEvent,
		Data:  UsersPayload{Users: users},
	}
}

func NewFilesShared(files []domain.File) *WSMessage {
	if files == nil {
		files = []domain.File{}
	}
	return &WSMessage{
		Event: ShareFilesEvent,
		Data:  FilesPayload{Files: files},
	}
}

func NewTextShared(text string) *WSMessage {
	return &WSMessage{
		Event: ShareTextEvent,
		Data:  TextPayload{Text: text},
	}
}

func NewAck(id uint64, outcome domain.Outcome) *WSMessage {
	return &WSMessage{
		Event: AckEvent,
		Ack:   id,
		Data:  outcome,
	}
}

func NewError(code, message string) *WSMessage {
	return &WSMessage{
		Event: ErrorEvent,
		Data: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
