package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomdrop/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrUnknownCodec = errors.New("unknown codec")

// Codec encodes frames for one WebSocket message type.
type Codec interface {
	Name() string
	MessageType() int
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	DecodeFrame(data []byte) (Frame, error)
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// CodecForMessageType picks the decoder for an inbound frame: text frames
// carry JSON, binary frames carry MessagePack.
func CodecForMessageType(messageType int) (Codec, bool) {
	switch messageType {
	case websocket.TextMessage:
		return JSON, true
	case websocket.BinaryMessage:
		return MsgPack, true
	}
	return nil, false
}

// Frame is an inbound client event. Ack is zero when the client does not
// expect an acknowledgement.
type Frame struct {
	Event string
	Ack   uint64

	data  []byte
	codec Codec
}

// Bind decodes the frame payload into v. A frame without data leaves v at
// its zero value.
func (f Frame) Bind(v any) error {
	if len(f.data) == 0 {
		return nil
	}
	if err := f.codec.Unmarshal(f.data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string     { return "json" }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c jsonCodec) DecodeFrame(data []byte) (Frame, error) {
	var in struct {
		Event string          `json:"event"`
		Ack   uint64          `json:"ack"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, err
	}
	if in.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event", domain.ErrInvalidInput)
	}
	return Frame{Event: in.Event, Ack: in.Ack, data: in.Data, codec: c}, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string     { return "msgpack" }
func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (c msgpackCodec) DecodeFrame(data []byte) (Frame, error) {
	var in struct {
		Event string             `msgpack:"event"`
		Ack   uint64             `msgpack:"ack"`
		Data  msgpack.RawMessage `msgpack:"data"`
	}
	if err := msgpack.Unmarshal(data, &in); err != nil {
		return Frame{}, err
	}
	if in.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event", domain.ErrInvalidInput)
	}
	return Frame{Event: in.Event, Ack: in.Ack, data: in.Data, codec: c}, nil
}
