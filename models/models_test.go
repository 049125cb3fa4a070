package models

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrous-signer/core/bus"
	"github.com/nitrous-signer/core/groupengine"
	"github.com/nitrous-signer/core/mlscore"
)

func newTestGroup(t *testing.T) (*bus.Bus, *groupengine.Adapter, string) {
	t.Helper()
	b := bus.New()
	engine, err := groupengine.Open(filepath.Join(t.TempDir(), "groups.json"), b)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	creatorKeys, err := mlscore.GenerateKeys()
	require.NoError(t, err)
	groupIDHex, _, _, err := engine.CreateGroup("creator", nil, "test group", "desc", []string{"creator"}, []string{"wss://relay.example"}, creatorKeys)
	require.NoError(t, err)
	return b, engine, groupIDHex
}

func TestStoreGroupsReflectsGroupEngineState(t *testing.T) {
	b, engine, groupIDHex := newTestGroup(t)
	s := New(b, engine)
	defer s.Close()

	groups := s.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, groupIDHex, groups[0].GroupIDHex)
	assert.Equal(t, "test group", groups[0].Name)
	assert.Equal(t, []string{"creator"}, groups[0].AdminHexes)

	gm, ok := s.Group(groupIDHex)
	require.True(t, ok)
	assert.Equal(t, "test group", gm.Name)

	_, ok = s.Group("unknown")
	assert.False(t, ok)
}

func TestStoreRefreshFoldsMessageReceivedEvents(t *testing.T) {
	b, engine, groupIDHex := newTestGroup(t)
	s := New(b, engine)
	defer s.Close()

	assert.Empty(t, s.Messages(groupIDHex))

	b.Publish(bus.Event{Kind: bus.MessageReceived, Payload: bus.MessageReceivedPayload{
		GroupIDHex:     groupIDHex,
		InnerEventJSON: `{"content":"hello"}`,
	}})
	b.Publish(bus.Event{Kind: bus.SessionLocked})

	s.Refresh()
	msgs := s.Messages(groupIDHex)
	require.Len(t, msgs, 1)
	assert.Equal(t, `{"content":"hello"}`, msgs[0].InnerEventJSON)
}

func TestStoreRecordSentAppendsWithoutBusRoundTrip(t *testing.T) {
	b, engine, groupIDHex := newTestGroup(t)
	s := New(b, engine)
	defer s.Close()

	s.RecordSent(groupIDHex, `{"content":"sent"}`, 1)
	msgs := s.Messages(groupIDHex)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(1), msgs[0].Epoch)
}

func TestStoreCloseUnsubscribesFromBus(t *testing.T) {
	b, engine, _ := newTestGroup(t)
	s := New(b, engine)
	s.Close()

	// Publishing after Close must not panic or error; the bus simply
	// no longer has this subscriber registered.
	b.Publish(bus.Event{Kind: bus.GroupCreated})
}
