// Package store holds the mutable client-side state: the ordered
// message list of the active chat and the session-wide roster.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"campuschat/internal/domain"
	"campuschat/pkg/logger"
)

// Entry is one slot in the ordered message list: the message plus its
// local lifecycle state.
type Entry struct {
	Message domain.Message
	State   domain.MessageState
}

// MessageStore is the single source of truth for the ordered message
// list of the active chat. The list is append-ordered by arrival;
// entries are never physically removed except by optimistic rollback,
// so indices stay stable for scroll anchoring.
//
// No two entries ever share an id: creates with a known id replace in
// place, updates with an unknown id are dropped.
type MessageStore struct {
	log *logger.Logger

	mu        sync.RWMutex
	entries   []Entry
	index     map[string]int // message id -> position
	listeners []func()
}

func NewMessageStore(log *logger.Logger) *MessageStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &MessageStore{
		log:   log,
		index: make(map[string]int),
	}
}

// Subscribe registers a callback fired after every mutation. The
// callback must not call back into the store.
func (s *MessageStore) Subscribe(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// ApplyInitial replaces the whole list with the backlog. Items arrive
// pre-sorted oldest to newest; the store keeps the server's order.
func (s *MessageStore) ApplyInitial(items []domain.Message) {
	s.mu.Lock()
	s.entries = make([]Entry, 0, len(items))
	s.index = make(map[string]int, len(items))
	for _, m := range items {
		if _, dup := s.index[m.ID]; dup {
			continue
		}
		s.index[m.ID] = len(s.entries)
		s.entries = append(s.entries, Entry{Message: m, State: domain.MessageStateConfirmed})
	}
	s.notifyLocked()
}

// ApplyCreated appends a message. A repeated id (duplicate event after
// a reconnect) replaces in place instead of appending, so the list
// length always equals the number of distinct ids.
func (s *MessageStore) ApplyCreated(m domain.Message) {
	s.mu.Lock()
	if i, ok := s.index[m.ID]; ok {
		s.entries[i] = Entry{Message: m, State: domain.MessageStateConfirmed}
		s.notifyLocked()
		return
	}
	if m.ClientMessageID != "" {
		if i, ok := s.index[m.ClientMessageID]; ok {
			// Echo of our own optimistic send: reconcile in place.
			s.reconcileLocked(i, m)
			s.notifyLocked()
			return
		}
	}
	s.index[m.ID] = len(s.entries)
	s.entries = append(s.entries, Entry{Message: m, State: domain.MessageStateConfirmed})
	s.notifyLocked()
}

// ApplyUpdated replaces the matching entry in place. Unknown ids are
// dropped silently: an update racing ahead of its create over the
// stream must not crash or leave duplicates.
func (s *MessageStore) ApplyUpdated(m domain.Message) {
	s.mu.Lock()
	i, ok := s.index[m.ID]
	if !ok {
		s.mu.Unlock()
		s.log.Debugf("ignoring update for unknown message %s", m.ID)
		return
	}
	s.entries[i] = Entry{Message: m, State: domain.MessageStateConfirmed}
	s.notifyLocked()
}

// ApplyDeleted flips the entry into a tombstone. The entry keeps its
// position; unknown ids are dropped.
func (s *MessageStore) ApplyDeleted(id string, at time.Time) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		s.log.Debugf("ignoring delete for unknown message %s", id)
		return
	}
	s.entries[i].Message = s.entries[i].Message.Tombstone(at)
	s.notifyLocked()
}

// PrependHistory inserts an older history page before the current
// list, keeping each page's oldest-to-newest order. Ids already
// present (overlap between the page boundary and the backlog) are
// skipped.
func (s *MessageStore) PrependHistory(items []domain.Message) {
	s.mu.Lock()
	fresh := make([]Entry, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, m := range items {
		if _, ok := s.index[m.ID]; ok {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		fresh = append(fresh, Entry{Message: m, State: domain.MessageStateConfirmed})
	}
	if len(fresh) == 0 {
		s.mu.Unlock()
		return
	}
	s.entries = append(fresh, s.entries...)
	s.index = make(map[string]int, len(s.entries))
	for j, e := range s.entries {
		s.index[e.Message.ID] = j
	}
	s.notifyLocked()
}

// AppendOptimistic appends a pending draft under a client-generated
// temporary id and returns that id for later Reconcile or Rollback.
func (s *MessageStore) AppendOptimistic(draft domain.Message) string {
	tempID := uuid.New().String()
	draft.ID = tempID
	draft.ClientMessageID = tempID
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}

	s.mu.Lock()
	s.index[tempID] = len(s.entries)
	s.entries = append(s.entries, Entry{Message: draft, State: domain.MessageStatePending})
	s.notifyLocked()
	return tempID
}

// Reconcile swaps the pending draft for the server's message, keeping
// the draft's position. No entry under the temp id remains.
func (s *MessageStore) Reconcile(tempID string, server domain.Message) bool {
	s.mu.Lock()
	i, ok := s.index[tempID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.reconcileLocked(i, server)
	s.notifyLocked()
	return true
}

// Rollback removes the pending draft; the list returns to its
// pre-append length.
func (s *MessageStore) Rollback(tempID string) bool {
	s.mu.Lock()
	i, ok := s.index[tempID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.index, tempID)
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	for j := i; j < len(s.entries); j++ {
		s.index[s.entries[j].Message.ID] = j
	}
	s.notifyLocked()
	return true
}

// MarkFailed flags a pending draft as failed without removing it, for
// UIs that offer retry instead of dropping the draft.
func (s *MessageStore) MarkFailed(tempID string) bool {
	s.mu.Lock()
	i, ok := s.index[tempID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.entries[i].State = domain.MessageStateFailed
	s.notifyLocked()
	return true
}

// Snapshot returns a copy of the ordered list.
func (s *MessageStore) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns the entry with the given id.
func (s *MessageStore) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.index[id]; ok {
		return s.entries[i], true
	}
	return Entry{}, false
}

// reconcileLocked replaces entry i with the confirmed server message
// and re-keys the index from the old id to the server id.
func (s *MessageStore) reconcileLocked(i int, server domain.Message) {
	old := s.entries[i].Message.ID
	delete(s.index, old)
	s.index[server.ID] = i
	s.entries[i] = Entry{Message: server, State: domain.MessageStateConfirmed}
}

// notifyLocked fires listeners and releases the lock. Callers hold
// s.mu when calling.
func (s *MessageStore) notifyLocked() {
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
