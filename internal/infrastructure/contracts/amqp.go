package contracts

// AmqpMessage is the message structure for AMQP.
type AmqpMessage struct {
	MemberID string `json:"memberId"`
	Data     []byte `json:"data"`
}

// Routing keys
const (
	EventRoomCreated  = "room.created"
	EventRoomDeleted  = "room.deleted"
	EventMemberJoined = "member.joined"
	EventMemberLeft   = "member.left"
)

var RoomEvents = []string{
	EventRoomCreated,
	EventRoomDeleted,
	EventMemberJoined,
	EventMemberLeft,
}
