package store

import (
	"sync"
	"time"

	"campuschat/internal/domain"
	"campuschat/pkg/logger"
)

// RosterStore is the inbox list: every chat with its unread badge and
// last-message preview, independent of which chat is open. One
// instance lives for the whole session and is injected where needed,
// never reached through a global.
type RosterStore struct {
	log *logger.Logger

	mu        sync.RWMutex
	entries   []domain.RosterEntry
	index     map[string]int // chat id -> position
	listeners []func()
}

func NewRosterStore(log *logger.Logger) *RosterStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &RosterStore{
		log:   log,
		index: make(map[string]int),
	}
}

// Subscribe registers a callback fired after every mutation.
func (s *RosterStore) Subscribe(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Seed merges one fetched roster page. The first page replaces the
// roster; later pages append. Chats already present keep their entry
// (and with it their live-updated counters) rather than being
// overwritten by a possibly older page.
func (s *RosterStore) Seed(page int, items []domain.RosterEntry) {
	s.mu.Lock()
	if page <= 1 {
		s.entries = make([]domain.RosterEntry, 0, len(items))
		s.index = make(map[string]int, len(items))
	}
	for _, e := range items {
		if _, ok := s.index[e.Chat.ID]; ok {
			continue
		}
		s.index[e.Chat.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	s.notifyLocked()
}

// ApplyStat merges a partial counter update. Only fields present in
// the update overwrite; the server is authoritative, so a lower
// unread count than the current one is applied as-is.
func (s *RosterStore) ApplyStat(chatID string, stat domain.StatUpdate) {
	s.mu.Lock()
	i, ok := s.index[chatID]
	if !ok {
		s.mu.Unlock()
		s.log.Debugf("ignoring stat update for unknown chat %s", chatID)
		return
	}
	if stat.UnreadCount != nil {
		s.entries[i].UnreadCount = *stat.UnreadCount
	}
	if stat.HasReply != nil {
		s.entries[i].HasReply = *stat.HasReply
	}
	if stat.LastMessage != nil {
		s.entries[i].LastMessage = stat.LastMessage
	}
	s.notifyLocked()
}

// AddNew prepends a freshly created chat with zero unread and no last
// message. A chat already present is left untouched.
func (s *RosterStore) AddNew(chat domain.Chat) {
	s.mu.Lock()
	if _, ok := s.index[chat.ID]; ok {
		s.mu.Unlock()
		return
	}
	s.entries = append([]domain.RosterEntry{{Chat: chat}}, s.entries...)
	s.index = make(map[string]int, len(s.entries))
	for j, e := range s.entries {
		s.index[e.Chat.ID] = j
	}
	s.notifyLocked()
}

// Update replaces the embedded chat metadata, leaving counters
// untouched. Unknown chats are dropped.
func (s *RosterStore) Update(chat domain.Chat) {
	s.mu.Lock()
	i, ok := s.index[chat.ID]
	if !ok {
		s.mu.Unlock()
		s.log.Debugf("ignoring update for unknown chat %s", chat.ID)
		return
	}
	s.entries[i].Chat = chat
	s.notifyLocked()
}

// Remove deletes the whole entry.
func (s *RosterStore) Remove(chatID string) {
	s.mu.Lock()
	i, ok := s.index[chatID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.index, chatID)
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	for j := i; j < len(s.entries); j++ {
		s.index[s.entries[j].Chat.ID] = j
	}
	s.notifyLocked()
}

// TouchActivity bumps the chat's last-message timestamp when a message
// event arrives for it.
func (s *RosterStore) TouchActivity(chatID string, at time.Time) {
	s.mu.Lock()
	i, ok := s.index[chatID]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.entries[i].Chat.LastMessageAt = &at
	s.entries[i].Chat.IsActive = true
	s.notifyLocked()
}

// Snapshot returns a copy of the roster in display order.
func (s *RosterStore) Snapshot() []domain.RosterEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RosterEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get returns the entry for one chat.
func (s *RosterStore) Get(chatID string) (domain.RosterEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.index[chatID]; ok {
		return s.entries[i], true
	}
	return domain.RosterEntry{}, false
}

// Clear empties the roster at logout.
func (s *RosterStore) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.index = make(map[string]int)
	s.notifyLocked()
}

func (s *RosterStore) notifyLocked() {
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
