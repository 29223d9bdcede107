package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxQueued bounds the undelivered messages kept per player.
const MaxQueued = 100

// Players is how the market reaches players connected to this process.
type Players interface {
	// Online reports whether player is connected here.
	Online(player uuid.UUID) bool
	// Send delivers text to an online player. It reports false when the
	// player is not connected.
	Send(player uuid.UUID, text string) bool
}

// Message is one delivered text.
type Message struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Inbox tracks presence and queues messages until the player drains them.
type Inbox struct {
	mu     sync.RWMutex
	online map[uuid.UUID]struct{}
	queued map[uuid.UUID][]Message
}

var _ Players = (*Inbox)(nil)

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{
		online: make(map[uuid.UUID]struct{}),
		queued: make(map[uuid.UUID][]Message),
	}
}

// Join marks player online.
func (i *Inbox) Join(player uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.online[player] = struct{}{}
}

// Leave marks player offline and discards undelivered messages.
func (i *Inbox) Leave(player uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.online, player)
	delete(i.queued, player)
}

func (i *Inbox) Online(player uuid.UUID) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.online[player]
	return ok
}

func (i *Inbox) Send(player uuid.UUID, text string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.online[player]; !ok {
		return false
	}
	q := append(i.queued[player], Message{Text: text, At: time.Now()})
	if len(q) > MaxQueued {
		q = q[len(q)-MaxQueued:]
	}
	i.queued[player] = q
	return true
}

// Drain returns and clears the player's messages.
func (i *Inbox) Drain(player uuid.UUID) []Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	q := i.queued[player]
	delete(i.queued, player)
	return q
}

// OnlineCount returns the number of connected players.
func (i *Inbox) OnlineCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.online)
}
