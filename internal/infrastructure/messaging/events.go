package messaging

import "time"

const (
	RoomsQueue      = "rooms"
	DeadLetterQueue = "dead_letter_queue"
)

// RoomEventData carries identifiers and counts only, never shared content.
type RoomEventData struct {
	Key         string    `json:"key"`
	MemberID    string    `json:"memberId,omitempty"`
	MemberName  string    `json:"memberName,omitempty"`
	MemberCount int       `json:"memberCount"`
	OccurredAt  time.Time `json:"occurredAt"`
}
