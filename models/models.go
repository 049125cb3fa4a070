// Package models implements the observable list/message projections
// (spec §2, §9): a subscriber that drains the event bus and keeps an
// in-memory, UI-agnostic view of every known group and its message
// history, without ever mutating the engines that own that state.
package models

import (
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/nitrous-signer/core/bus"
	"github.com/nitrous-signer/core/corelog"
	"github.com/nitrous-signer/core/groupengine"
	"github.com/nitrous-signer/core/mlscore"
)

var log = corelog.For("models")

// GroupModel is one row of the group list projection.
type GroupModel struct {
	GroupIDHex  string
	Name        string
	Description string
	Epoch       uint64
	State       string
	AdminHexes  []string
	RelayURLs   []string
}

// Message is one entry of a group's message history projection.
type Message struct {
	GroupIDHex     string
	InnerEventJSON string
	Epoch          uint64
}

// Store is the observable projection: it owns no engine state, only a
// read-mostly cache rebuilt from bus events plus on-demand reads of
// the GroupEngine adapter it was given at construction.
type Store struct {
	mu       sync.Mutex
	bus      *bus.Bus
	subID    int
	engine   *groupengine.Adapter
	history  *HistoryLog          // nil means no on-disk persistence
	messages map[string][]Message // keyed by group id hex, append-only per group
}

// New returns a Store subscribed to b, backed by engine for group
// metadata lookups. Call Refresh (or Close when done) from the same
// goroutine that owns UI redraws; Store itself takes no background
// goroutine, matching the bus's pull-based design.
func New(b *bus.Bus, engine *groupengine.Adapter) *Store {
	return &Store{
		bus:      b,
		subID:    b.Subscribe(),
		engine:   engine,
		messages: map[string][]Message{},
	}
}

// Close unsubscribes from the bus. The Store is unusable afterward.
func (s *Store) Close() {
	s.bus.Unsubscribe(s.subID)
}

// SetHistoryLog attaches on-disk transcript persistence: future
// Refresh/RecordSent calls append to it, and LoadHistory can prime a
// group's in-memory backlog from it. Pass nil to disable (the
// default).
func (s *Store) SetHistoryLog(h *HistoryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = h
}

// LoadHistory primes groupIDHex's in-memory message list from the
// attached HistoryLog, if any, fetching up to maxMessages prior
// entries. Call once at startup before the first Refresh so restored
// history doesn't get ordered after anything seen since.
func (s *Store) LoadHistory(groupIDHex string, maxMessages int) error {
	s.mu.Lock()
	h := s.history
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	prior, err := h.Load(groupIDHex, maxMessages)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[groupIDHex] = append(prior, s.messages[groupIDHex]...)
	return nil
}

// Refresh drains every bus event published since the last Refresh (or
// since New) and folds message receipts into the local projection.
// Callers should invoke this before reading Groups/Messages to pick up
// state that changed since the last draw.
func (s *Store) Refresh() {
	events := s.bus.Drain(s.subID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if ev.Kind != bus.MessageReceived {
			continue
		}
		p, ok := ev.Payload.(bus.MessageReceivedPayload)
		if !ok {
			continue
		}
		msg := Message{
			GroupIDHex:     p.GroupIDHex,
			InnerEventJSON: p.InnerEventJSON,
		}
		s.messages[p.GroupIDHex] = append(s.messages[p.GroupIDHex], msg)
		if s.history != nil {
			if err := s.history.Append(p.GroupIDHex, msg, time.Now().Unix()); err != nil {
				log.Warn().Err(err).Str("group", p.GroupIDHex).Msg("persist received message")
			}
		}
	}
}

// Groups returns every group GroupEngine knows about, sorted by id for
// a stable render order.
func (s *Store) Groups() []GroupModel {
	states := s.engine.ListGroups()
	out := make([]GroupModel, 0, len(states))
	for _, gs := range states {
		out = append(out, groupModelOf(gs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupIDHex < out[j].GroupIDHex })
	return out
}

// Group returns the single group projection for groupIDHex, if known.
func (s *Store) Group(groupIDHex string) (GroupModel, bool) {
	gs, err := s.engine.Group(groupIDHex)
	if err != nil {
		return GroupModel{}, false
	}
	return groupModelOf(gs), true
}

// Messages returns the accumulated message history for groupIDHex, in
// receipt order. RecordSent should be called by the caller after a
// successful send so outgoing messages appear in the same history
// without waiting on a bus round trip the sender itself won't receive.
func (s *Store) Messages(groupIDHex string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages[groupIDHex]))
	copy(out, s.messages[groupIDHex])
	return out
}

// RecordSent appends a locally authored message to groupIDHex's
// history. GroupEngine's own-message detection (spec §4.10) means the
// bus never redelivers a message to its own sender, so the sender's
// UI relies on this instead of a MessageReceived event.
func (s *Store) RecordSent(groupIDHex, innerEventJSON string, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := Message{
		GroupIDHex:     groupIDHex,
		InnerEventJSON: innerEventJSON,
		Epoch:          epoch,
	}
	s.messages[groupIDHex] = append(s.messages[groupIDHex], msg)
	if s.history != nil {
		if err := s.history.Append(groupIDHex, msg, time.Now().Unix()); err != nil {
			log.Warn().Err(err).Str("group", groupIDHex).Msg("persist sent message")
		}
	}
}

func groupModelOf(gs mlscore.GroupState) GroupModel {
	return GroupModel{
		GroupIDHex:  hexEncode(gs.GroupID),
		Name:        gs.Name,
		Description: gs.Description,
		Epoch:       gs.Epoch,
		State:       gs.State,
		AdminHexes:  gs.AdminHexes,
		RelayURLs:   gs.RelayURLs,
	}
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }
