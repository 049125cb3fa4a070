// Package bus implements the typed event bus design note (spec §9):
// plain data records instead of UI-framework signals, with pull-based
// subscribers so there is no callback lifetime entanglement. Every
// engine that mutates observable state (SessionManager, GroupEngine,
// DmManager) publishes through a Bus instead of holding UI callbacks
// directly.
package bus

import "sync"

// Kind discriminates the record carried by an Event.
type Kind string

const (
	SessionLocked        Kind = "session_locked"
	SessionAuthenticated Kind = "session_authenticated"
	GroupCreated         Kind = "group_created"
	GroupJoined          Kind = "group_joined"
	MessageReceived      Kind = "message_received"
	WelcomeReceived      Kind = "welcome_received"
	GroupUpdated         Kind = "group_updated"
	IdentityAdded        Kind = "identity_added"
	IdentityRemoved      Kind = "identity_removed"
	DelegationRevoked    Kind = "delegation_revoked"
)

// Event is one record on the bus. Payload is the kind-specific data
// (e.g. MessageReceivedPayload for MessageReceived); subscribers type
// assert after checking Kind.
type Event struct {
	Kind    Kind
	Payload any
}

// MessageReceivedPayload is the data record for a MessageReceived event
// (spec §9): the local group handle and the decrypted inner event JSON.
type MessageReceivedPayload struct {
	GroupIDHex    string
	InnerEventJSON string
}

// GroupUpdatedPayload carries the group handle and new epoch after a
// commit is processed.
type GroupUpdatedPayload struct {
	GroupIDHex string
	Epoch      uint64
}

// Bus is a pull-based, fan-out event log. Subscribers call Drain to
// consume everything published since their last drain; nothing is
// pushed to them and no subscriber holds a live reference into engine
// state.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
}

type subscriber struct {
	events []Event
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: map[int]*subscriber{}}
}

// Subscribe registers a new subscriber and returns its id, used with
// Drain and Unsubscribe.
func (b *Bus) Subscribe() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = &subscriber{}
	return id
}

// Unsubscribe removes a subscriber; its undrained events are discarded.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish appends ev to every current subscriber's queue.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers {
		s.events = append(s.events, ev)
	}
}

// Drain returns and clears everything queued for subscriber id since
// its last Drain call.
func (b *Bus) Drain(id int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subscribers[id]
	if !ok {
		return nil
	}
	events := s.events
	s.events = nil
	return events
}
