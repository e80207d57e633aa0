package repository

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hilthontt/roomdrop/internal/domain"
)

const (
	defaultLockStripes = 64

	// allocation races are rare; a handful of retries covers them.
	maxAllocationRaces = 8
)

type KeyAllocator interface {
	Allocate(inUse func(domain.RoomKey) bool) (domain.RoomKey, error)
	Normalize(raw string) (domain.RoomKey, bool)
}

type Options struct {
	// LockStripes is the number of mutexes key locks are spread over.
	LockStripes int
	// AdoptRequestedKey creates a room under a well-formed requested key that
	// names no live room, instead of allocating a fresh one.
	AdoptRequestedKey bool
}

// RoomRegistry is the in-memory set of live rooms.
//
// Mutations on one key are serialised by that key's stripe lock, which is
// always taken before mu. mu guards the maps and is never held while a
// CommitFunc runs, so slow observers on one room do not stall the others.
type RoomRegistry struct {
	keys              KeyAllocator
	rooms             map[domain.RoomKey]*domain.Room
	memberIndex       map[string]domain.RoomKey // member ID -> room key
	stripes           []sync.Mutex
	adoptRequestedKey bool
	mu                sync.RWMutex
}

func NewRoomRegistry(keys KeyAllocator, opts Options) *RoomRegistry {
	if opts.LockStripes <= 0 {
		opts.LockStripes = defaultLockStripes
	}

	return &RoomRegistry{
		keys:              keys,
		rooms:             make(map[domain.RoomKey]*domain.Room),
		memberIndex:       make(map[string]domain.RoomKey),
		stripes:           make([]sync.Mutex, opts.LockStripes),
		adoptRequestedKey: opts.AdoptRequestedKey,
	}
}

func (r *RoomRegistry) stripe(key domain.RoomKey) *sync.Mutex {
	return &r.stripes[xxhash.Sum64String(string(key))%uint64(len(r.stripes))]
}

// CreateOrJoin adds member to the live room named by requested, or to a new
// room under a freshly allocated key when requested resolves to nothing.
func (r *RoomRegistry) CreateOrJoin(ctx context.Context, requested domain.RoomKey, member domain.Member, commit domain.CommitFunc) (domain.Change, error) {
	if member.ID == "" {
		return domain.Change{}, domain.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return domain.Change{}, err
	}

	if key, valid := r.keys.Normalize(string(requested)); valid {
		change, joined, err := r.join(key, member, commit)
		if err != nil || joined {
			return change, err
		}
	}

	return r.create(member, commit)
}

// join reports false when key names no live room and adoption is off.
func (r *RoomRegistry) join(key domain.RoomKey, member domain.Member, commit domain.CommitFunc) (domain.Change, bool, error) {
	lock := r.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if _, enrolled := r.memberIndex[member.ID]; enrolled {
		r.mu.Unlock()
		return domain.Change{}, true, domain.ErrAlreadyInRoom
	}

	room, exists := r.rooms[key]
	created := false
	if !exists {
		if !r.adoptRequestedKey {
			r.mu.Unlock()
			return domain.Change{}, false, nil
		}
		room = domain.NewRoom(key)
		r.rooms[key] = room
		created = true
	}

	if err := room.AddMember(member); err != nil {
		r.mu.Unlock()
		return domain.Change{}, true, err
	}
	r.memberIndex[member.ID] = key

	change := domain.Change{
		Key:     key,
		Member:  member,
		Members: room.Snapshot(),
		Created: created,
	}
	r.mu.Unlock()

	if commit != nil {
		commit(change)
	}
	return change, true, nil
}

func (r *RoomRegistry) create(member domain.Member, commit domain.CommitFunc) (domain.Change, error) {
	for range maxAllocationRaces {
		r.mu.RLock()
		_, enrolled := r.memberIndex[member.ID]
		var (
			key domain.RoomKey
			err error
		)
		if !enrolled {
			key, err = r.keys.Allocate(r.inUseLocked)
		}
		r.mu.RUnlock()

		if enrolled {
			return domain.Change{}, domain.ErrAlreadyInRoom
		}
		if err != nil {
			return domain.Change{}, err
		}

		change, raced, err := r.insertFresh(key, member, commit)
		if raced {
			continue
		}
		return change, err
	}

	return domain.Change{}, domain.ErrKeyspaceExhausted
}

// insertFresh reports raced when another connection claimed key between
// allocation and locking.
func (r *RoomRegistry) insertFresh(key domain.RoomKey, member domain.Member, commit domain.CommitFunc) (domain.Change, bool, error) {
	lock := r.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if _, taken := r.rooms[key]; taken {
		r.mu.Unlock()
		return domain.Change{}, true, nil
	}
	if _, enrolled := r.memberIndex[member.ID]; enrolled {
		r.mu.Unlock()
		return domain.Change{}, false, domain.ErrAlreadyInRoom
	}

	room := domain.NewRoom(key)
	_ = room.AddMember(member)
	r.rooms[key] = room
	r.memberIndex[member.ID] = key

	change := domain.Change{
		Key:     key,
		Member:  member,
		Members: room.Snapshot(),
		Created: true,
	}
	r.mu.Unlock()

	if commit != nil {
		commit(change)
	}
	return change, false, nil
}

// inUseLocked must be called with mu held.
func (r *RoomRegistry) inUseLocked(key domain.RoomKey) bool {
	_, ok := r.rooms[key]
	return ok
}

// Leave removes the member and deletes the room once it is empty. A later
// CreateOrJoin may reuse the key immediately.
func (r *RoomRegistry) Leave(ctx context.Context, key domain.RoomKey, memberID string, commit domain.CommitFunc) (domain.Change, error) {
	lock := r.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	room, exists := r.rooms[key]
	if !exists {
		r.mu.Unlock()
		return domain.Change{}, domain.ErrRoomNotFound
	}

	member, err := room.RemoveMember(memberID)
	if err != nil {
		r.mu.Unlock()
		return domain.Change{}, err
	}
	delete(r.memberIndex, memberID)

	deleted := room.IsEmpty()
	if deleted {
		delete(r.rooms, key)
	}

	change := domain.Change{
		Key:     key,
		Member:  member,
		Members: room.Snapshot(),
		Deleted: deleted,
	}
	r.mu.Unlock()

	if commit != nil {
		commit(change)
	}
	return change, nil
}

func (r *RoomRegistry) MembersOf(ctx context.Context, key domain.RoomKey) ([]domain.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[key]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return room.Snapshot(), nil
}

// roomOf returns the key of the room the member currently belongs to.
func (r *RoomRegistry) roomOf(memberID string) (domain.RoomKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.memberIndex[memberID]
	return key, ok
}

func (r *RoomRegistry) Stats() domain.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return domain.RegistryStats{
		Rooms:   len(r.rooms),
		Members: len(r.memberIndex),
	}
}
