package domain

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrAlreadyInRoom      = errors.New("member is already in a room")
	ErrKeyspaceExhausted  = errors.New("room keyspace exhausted")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoRecipients       = errors.New("no recipients")
	ErrForbiddenRecipient = errors.New("recipient is not a member of the sender's room")
	ErrUnknownEvent       = errors.New("unknown event")
)

// RoomKey is the short, human-typeable identifier of a live room.
type RoomKey string

func (k RoomKey) String() string {
	return string(k)
}

// Room holds its members in join order. A Room is owned by the registry and
// must only be mutated while the registry holds the key's lock.
type Room struct {
	Key       RoomKey
	Members   []Member
	CreatedAt time.Time
}

func NewRoom(key RoomKey) *Room {
	return &Room{
		Key:       key,
		Members:   make([]Member, 0, 4),
		CreatedAt: time.Now().UTC(),
	}
}

func (r *Room) AddMember(member Member) error {
	if member.ID == "" {
		return ErrInvalidInput
	}
	if _, ok := r.FindMemberByID(member.ID); ok {
		return ErrAlreadyInRoom
	}

	r.Members = append(r.Members, member)
	return nil
}

// RemoveMember drops the member and keeps the remaining join order intact.
func (r *Room) RemoveMember(memberID string) (Member, error) {
	idx := slices.IndexFunc(r.Members, func(m Member) bool { return m.ID == memberID })
	if idx < 0 {
		return Member{}, ErrMemberNotFound
	}

	removed := r.Members[idx]
	r.Members = slices.Delete(r.Members, idx, idx+1)
	return removed, nil
}

func (r *Room) FindMemberByID(memberID string) (Member, bool) {
	for _, m := range r.Members {
		if m.ID == memberID {
			return m, true
		}
	}
	return Member{}, false
}

func (r *Room) IsEmpty() bool {
	return len(r.Members) == 0
}

func (r *Room) Snapshot() []Member {
	return slices.Clone(r.Members)
}

// Change describes a single membership mutation. Members is the room's
// membership right after the mutation, in join order.
type Change struct {
	Key     RoomKey
	Member  Member
	Members []Member
	Created bool
	Deleted bool
}

// CommitFunc observes a Change while the registry still serialises the
// room's key, so notifications leave in mutation order.
type CommitFunc func(Change)

type RegistryStats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

type RoomRegistry interface {
	CreateOrJoin(ctx context.Context, requested RoomKey, member Member, commit CommitFunc) (Change, error)
	Leave(ctx context.Context, key RoomKey, memberID string, commit CommitFunc) (Change, error)
	MembersOf(ctx context.Context, key RoomKey) ([]Member, error)
	Stats() RegistryStats
}
