// Package session provides the in-memory session store: expiring sessions
// keyed by 32-character ids, evicted lazily under a single lock.
package session

import (
	"container/heap"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// CookieName is the cookie that carries the session id.
const CookieName = "bsessionid"

// TTL is the sliding expiry window: a session dies 20 minutes after the
// last GetOrCreate/TryGet that returned it.
const TTL = 20 * time.Minute

const idLength = 32

// Session holds per-visitor state. Handlers mutate it freely between
// suspension points; the store never touches a session after handing it out.
type Session map[string]any

// Store maps session ids to sessions. All state is guarded by one mutex;
// every operation first evicts whatever the expiry queue says is dead.
//
// Four indices agree at all times: id→slot, slot→id, slot→session and
// slot→deadline, with the queue ordering (deadline, slot) pairs for O(log n)
// refresh and eviction.
type Store struct {
	mu sync.Mutex

	idToSlot  map[string]uint64
	slotToID  map[uint64]string
	sessions  map[uint64]Session
	deadlines map[uint64]time.Time
	queue     expiryQueue

	now func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		idToSlot:  make(map[string]uint64),
		slotToID:  make(map[uint64]string),
		sessions:  make(map[uint64]Session),
		deadlines: make(map[uint64]time.Time),
		queue:     newExpiryQueue(),
		now:       time.Now,
	}
}

// GetOrCreate returns the session for id, refreshing its deadline. When id
// is empty or unknown a fresh session is created under a new unique id and
// created is true. The returned id is the live one either way.
func (s *Store) GetOrCreate(id string) (string, Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evict(now)

	slot, ok := s.idToSlot[id]
	created := false
	if id == "" || !ok {
		for {
			id = randomID()
			if _, taken := s.idToSlot[id]; !taken {
				break
			}
		}
		for {
			slot = randomSlot()
			if _, taken := s.slotToID[slot]; !taken {
				break
			}
		}
		s.idToSlot[id] = slot
		s.slotToID[slot] = id
		s.sessions[slot] = make(Session)
		created = true
	} else {
		s.queue.remove(slot)
	}
	deadline := now.Add(TTL)
	s.deadlines[slot] = deadline
	s.queue.push(deadline, slot)
	return id, s.sessions[slot], created
}

// TryGet returns the live session for id, refreshing its deadline, or
// (nil, false) when id is unknown or expired.
func (s *Store) TryGet(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evict(now)

	slot, ok := s.idToSlot[id]
	if !ok {
		return nil, false
	}
	s.queue.remove(slot)
	deadline := now.Add(TTL)
	s.deadlines[slot] = deadline
	s.queue.push(deadline, slot)
	return s.sessions[slot], true
}

// Len reports the number of live sessions after an eviction pass.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(s.now())
	return len(s.sessions)
}

// evict pops expired entries off the queue head and erases them from every
// index. Caller holds the lock.
func (s *Store) evict(now time.Time) {
	for s.queue.Len() > 0 && s.queue.min().deadline.Before(now) {
		slot := s.queue.popMin().slot
		delete(s.idToSlot, s.slotToID[slot])
		delete(s.slotToID, slot)
		delete(s.sessions, slot)
		delete(s.deadlines, slot)
	}
}

const idChars = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"1234567890"

// randomID draws an id from crypto/rand with rejection sampling so every
// character is uniform over idChars.
func randomID() string {
	id := make([]byte, idLength)
	buf := make([]byte, 1)
	// 248 is the largest multiple of len(idChars) below 256.
	const limit = 256 - 256%len(idChars)
	for i := 0; i < idLength; {
		if _, err := rand.Read(buf); err != nil {
			panic("session: crypto/rand unavailable: " + err.Error())
		}
		if int(buf[0]) >= limit {
			continue
		}
		id[i] = idChars[int(buf[0])%len(idChars)]
		i++
	}
	return string(id)
}

func randomSlot() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("session: crypto/rand unavailable: " + err.Error())
	}
	return binary.BigEndian.Uint64(buf[:])
}

// expiryQueue is a min-heap of (deadline, slot) pairs with a slot index so
// arbitrary entries can be removed in O(log n) when a deadline is refreshed.
type expiryQueue struct {
	entries []expiryEntry
	index   map[uint64]int
}

type expiryEntry struct {
	deadline time.Time
	slot     uint64
}

func newExpiryQueue() expiryQueue {
	return expiryQueue{index: make(map[uint64]int)}
}

func (q *expiryQueue) Len() int { return len(q.entries) }

func (q *expiryQueue) Less(i, j int) bool {
	if !q.entries[i].deadline.Equal(q.entries[j].deadline) {
		return q.entries[i].deadline.Before(q.entries[j].deadline)
	}
	return q.entries[i].slot < q.entries[j].slot
}

func (q *expiryQueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	q.index[q.entries[i].slot] = i
	q.index[q.entries[j].slot] = j
}

func (q *expiryQueue) Push(x any) {
	e := x.(expiryEntry)
	q.index[e.slot] = len(q.entries)
	q.entries = append(q.entries, e)
}

func (q *expiryQueue) Pop() any {
	e := q.entries[len(q.entries)-1]
	q.entries = q.entries[:len(q.entries)-1]
	delete(q.index, e.slot)
	return e
}

func (q *expiryQueue) push(deadline time.Time, slot uint64) {
	heap.Push(q, expiryEntry{deadline: deadline, slot: slot})
}

func (q *expiryQueue) min() expiryEntry { return q.entries[0] }

func (q *expiryQueue) popMin() expiryEntry {
	return heap.Pop(q).(expiryEntry)
}

func (q *expiryQueue) remove(slot uint64) {
	if i, ok := q.index[slot]; ok {
		heap.Remove(q, i)
	}
}
