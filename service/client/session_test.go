package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itiky/drawsync/model"
	"github.com/itiky/drawsync/storage"
)

func newTestSession(t *testing.T, store *storage.Store, promptReload func(pageId string)) (*Session, *virtualScheduler, *fakeFactory) {
	sched := newVirtualScheduler()
	factory := newFakeFactory(sched)

	sess, err := NewSession(SessionConfig{
		Params: ConnParams{
			BoardId:    "b1",
			PageId:     "p1",
			DrawerId:   "u1",
			DrawerName: "bob",
		},
		Store:        store,
		Factory:      factory,
		Scheduler:    sched,
		PromptReload: promptReload,
	})
	require.NoError(t, err)

	return sess, sched, factory
}

func feed(t *testing.T, sess *Session, msg model.Message) {
	raw, err := model.EncodeMessage(msg)
	require.NoError(t, err)
	sess.HandleChunk(raw)
}

// Test checks the Idle -> Connecting -> Open transition and the duplicate
// connect guard.
func Test_Session_Open(t *testing.T) {
	sess, _, factory := newTestSession(t, storage.NewStore(), nil)
	defer sess.Close()

	require.Equal(t, StateIdle, sess.State())

	require.NoError(t, sess.Open())
	require.Equal(t, StateOpen, sess.State())
	require.Equal(t, 1, factory.DialCount())

	// a second Open while connected must not dial again
	require.NoError(t, sess.Open())
	require.Equal(t, 1, factory.DialCount())
}

// Test checks that opening a connection clears stale current-page shapes and
// presence markers while preserving other pages.
func Test_Session_StaleRecords(t *testing.T) {
	store := storage.NewStore()

	staleShape := model.NewRecord(model.ShapeType, model.ShapeRecordId("stale"))
	staleShape["parentId"] = model.PageRecordId("p1")
	otherShape := model.NewRecord(model.ShapeType, model.ShapeRecordId("other"))
	otherShape["parentId"] = model.PageRecordId("p2")
	stalePresence := model.NewRecord(model.PresenceType, model.PresenceRecordId("u9"))

	store.Transact(storage.SourceRemote, func(tx *storage.Tx) {
		tx.Put(staleShape)
		tx.Put(otherShape)
		tx.Put(stalePresence)
	})

	sess, _, _ := newTestSession(t, store, nil)
	defer sess.Close()
	require.NoError(t, sess.Open())

	_, found := store.Get(staleShape.Id())
	require.False(t, found, "current page shape cleared")
	_, found = store.Get(stalePresence.Id())
	require.False(t, found, "presence cleared")
	_, found = store.Get(otherShape.Id())
	require.True(t, found, "other page shape kept")
}

// Test checks that local edits reach the wire and inbound applies never loop
// back (remote-sourced events produce no sync sends).
func Test_Session_LocalRemoteFlow(t *testing.T) {
	store := storage.NewStore()
	sess, sched, factory := newTestSession(t, store, nil)
	defer sess.Close()
	require.NoError(t, sess.Open())

	transport := factory.LastTransport(t)

	// inbound sync lands in the store
	remote := model.NewRecord(model.ShapeType, model.ShapeRecordId("remote"))
	remote["parentId"] = model.PageRecordId("p1")
	cs := model.NewChangeSet()
	cs.RecordAdded(remote)
	feed(t, sess, model.NewSyncMessage("u2", "p1", cs))

	_, found := store.Get(remote.Id())
	require.True(t, found)

	// and never echoes back out
	sched.Advance(100 * time.Millisecond)
	require.Empty(t, transport.rec.SyncMessages(t), "remote apply echoed to the wire")

	// a local edit flushes out as a sync send
	local := model.NewRecord(model.ShapeType, model.ShapeRecordId("local"))
	local["parentId"] = model.PageRecordId("p1")
	store.Put(storage.SourceLocal, local)
	sched.Advance(100 * time.Millisecond)

	msgs := transport.rec.SyncMessages(t)
	require.Len(t, msgs, 1)
	require.Equal(t, "u1", msgs[0].UserId)
	require.Contains(t, msgs[0].Payload.Added, local.Id())

	// local presence records are ephemeral, never document sync
	store.Put(storage.SourceLocal, model.NewRecord(model.PresenceType, model.PresenceRecordId("u1")))
	sched.Advance(100 * time.Millisecond)
	require.Len(t, transport.rec.SyncMessages(t), 1)
}

// Test checks inbound presence and leave handling.
func Test_Session_Presence(t *testing.T) {
	store := storage.NewStore()
	sess, _, _ := newTestSession(t, store, nil)
	defer sess.Close()
	require.NoError(t, sess.Open())

	// a peer presence broadcast materializes as a presence record
	feed(t, sess, model.NewPresenceMessage("b1", "p1", "u2", "alice", 10, 20, model.Camera{Z: 1}))

	rec, found := store.Get(model.PresenceRecordId("u2"))
	require.True(t, found)
	require.Equal(t, "alice", rec["userName"])
	require.Equal(t, 10.0, rec["cursor"].(map[string]interface{})["x"])

	// self presence is ignored
	feed(t, sess, model.NewPresenceMessage("b1", "p1", "u1", "bob", 1, 2, model.Camera{}))
	_, found = store.Get(model.PresenceRecordId("u1"))
	require.False(t, found)

	// structurally broken presence is ignored
	feed(t, sess, model.PresenceMessage{Type: model.PresenceMessageType, UserId: "u3"})
	_, found = store.Get(model.PresenceRecordId("u3"))
	require.False(t, found)

	// leave drops the marker
	feed(t, sess, model.NewLeaveMessage("u2", "p1"))
	_, found = store.Get(model.PresenceRecordId("u2"))
	require.False(t, found)
}

// Test checks page lifecycle message handling, including the reload prompt
// when the current page is deleted remotely.
func Test_Session_PageLifecycle(t *testing.T) {
	var reloadPageId string
	store := storage.NewStore()
	sess, _, _ := newTestSession(t, store, func(pageId string) {
		reloadPageId = pageId
	})
	defer sess.Close()
	require.NoError(t, sess.Open())

	newPage := func(kind model.MessageType, pageId, title string) model.Message {
		msg, err := model.NewPageLifecycleMessage(kind, model.PageInfo{PageId: pageId, PageTitle: title})
		require.NoError(t, err)
		return msg
	}

	// creation
	feed(t, sess, newPage(model.NewPageMessageType, "p2", "Second"))
	rec, found := store.Get(model.PageRecordId("p2"))
	require.True(t, found)
	require.Equal(t, "Second", rec["name"])

	// duplicate creation keeps the existing record
	feed(t, sess, newPage(model.NewPageMessageType, "p2", "Altered"))
	rec, _ = store.Get(model.PageRecordId("p2"))
	require.Equal(t, "Second", rec["name"])

	// rename
	feed(t, sess, newPage(model.UpdatePageMessageType, "p2", "Renamed"))
	rec, _ = store.Get(model.PageRecordId("p2"))
	require.Equal(t, "Renamed", rec["name"])

	// rename of an unknown page is dropped
	feed(t, sess, newPage(model.UpdatePageMessageType, "ghost", "Ghost"))
	_, found = store.Get(model.PageRecordId("ghost"))
	require.False(t, found)

	// deleting another page drops it and its shapes, no prompt
	shape := model.NewRecord(model.ShapeType, model.ShapeRecordId("s2"))
	shape["parentId"] = model.PageRecordId("p2")
	store.Put(storage.SourceRemote, shape)

	feed(t, sess, newPage(model.DeletePageMessageType, "p2", "Renamed"))
	_, found = store.Get(model.PageRecordId("p2"))
	require.False(t, found)
	_, found = store.Get(shape.Id())
	require.False(t, found)
	require.Empty(t, reloadPageId)

	// deleting the current page prompts for a reload
	feed(t, sess, newPage(model.DeletePageMessageType, "p1", "First"))
	require.Equal(t, "p1", reloadPageId)
}

// Test checks the keepalive pings while open.
func Test_Session_Ping(t *testing.T) {
	sess, sched, factory := newTestSession(t, storage.NewStore(), nil)
	defer sess.Close()
	require.NoError(t, sess.Open())

	transport := factory.LastTransport(t)
	sched.Advance(2 * pingInterval)

	pings := 0
	for _, msg := range transport.rec.Messages(t) {
		if msg.Kind() == model.PingMessageType {
			pings++
		}
	}
	require.Equal(t, 2, pings)
}

// Test checks the graceful closure: leave message, normal closure code, no
// reconnection and no timers left behind.
func Test_Session_Close(t *testing.T) {
	sess, sched, factory := newTestSession(t, storage.NewStore(), nil)
	require.NoError(t, sess.Open())

	transport := factory.LastTransport(t)
	sess.Close()
	require.Equal(t, StateClosed, sess.State())

	msgs := transport.rec.Messages(t)
	require.NotEmpty(t, msgs)
	leave, ok := msgs[len(msgs)-1].(model.LeaveMessage)
	require.True(t, ok, "last message is the leave")
	require.Equal(t, "u1", leave.DrawerId)
	require.Equal(t, "p1", leave.PageId)

	code, closed := transport.CloseCode()
	require.True(t, closed)
	require.Equal(t, normalClosureCode, code)

	// no reconnection, no pings after closure
	count := transport.rec.SentCount()
	sched.Advance(2 * pingInterval)
	require.Equal(t, 1, factory.DialCount())
	require.Equal(t, count, transport.rec.SentCount())
}

// Test checks that an abnormal closure schedules exactly one delayed re-dial
// with the original connection parameters.
func Test_Session_Reconnect(t *testing.T) {
	sess, sched, factory := newTestSession(t, storage.NewStore(), nil)
	defer sess.Close()
	require.NoError(t, sess.Open())

	sess.HandleClose(1006, errors.New("gone"))
	require.Equal(t, StateClosed, sess.State())

	// a duplicate close callback from the dead connection changes nothing
	sess.HandleClose(1006, errors.New("gone again"))

	// no redial before the backoff elapses
	sched.Advance(reconnectDelay / 2)
	require.Equal(t, 1, factory.DialCount())

	sched.Advance(reconnectDelay)
	require.Equal(t, 2, factory.DialCount())
	require.Equal(t, StateOpen, sess.State())

	// the same identifiers are used for the new connection
	require.Equal(t, factory.dials[0], factory.dials[1])
}

// Test checks that a failed dial keeps retrying on the fixed backoff.
func Test_Session_DialFailure(t *testing.T) {
	sess, sched, factory := newTestSession(t, storage.NewStore(), nil)
	defer sess.Close()

	factory.dialErr = errors.New("refused")
	require.NoError(t, sess.Open())
	require.Equal(t, StateClosed, sess.State())
	require.Equal(t, 1, factory.DialCount())

	sched.Advance(reconnectDelay)
	require.Equal(t, 2, factory.DialCount())

	// the relay comes back
	factory.mu.Lock()
	factory.dialErr = nil
	factory.mu.Unlock()

	sched.Advance(reconnectDelay)
	require.Equal(t, 3, factory.DialCount())
	require.Equal(t, StateOpen, sess.State())
}

// Test checks the config validation of NewSession.
func Test_Session_New(t *testing.T) {
	sched := newVirtualScheduler()
	factory := newFakeFactory(sched)
	params := ConnParams{BoardId: "b1", PageId: "p1", DrawerId: "u1"}

	_, err := NewSession(SessionConfig{Store: storage.NewStore(), Factory: factory})
	require.Error(t, err, "missing params")

	_, err = NewSession(SessionConfig{Params: params, Factory: factory})
	require.Error(t, err, "missing store")

	_, err = NewSession(SessionConfig{Params: params, Store: storage.NewStore()})
	require.Error(t, err, "missing factory")

	sess, err := NewSession(SessionConfig{Params: params, Store: storage.NewStore(), Factory: factory})
	require.NoError(t, err)
	require.Equal(t, StateIdle, sess.State())
}
