package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itiky/drawsync/model"
	"github.com/itiky/drawsync/storage"
)

func newShapeEvent(kind model.ChangeKind, id string, size float64) storage.ChangeEvent {
	rec := model.NewRecord(model.ShapeType, model.ShapeRecordId(id))
	rec["props"] = map[string]interface{}{"w": size}

	ev := storage.ChangeEvent{
		Kind:   kind,
		Record: rec,
		Source: storage.SourceLocal,
	}
	if kind == model.UpdatedChange {
		prior := rec.Clone()
		prior["props"].(map[string]interface{})["w"] = size - 1
		ev.Prior = prior
	}

	return ev
}

// Test checks that a burst of mutations lands as one coalesced sync send.
func Test_Batcher_Coalescing(t *testing.T) {
	sched := newVirtualScheduler()
	rec := newSendRecorder(sched)

	batcher, err := NewChangeBatcher("u1", "p1", sched, rec.Send)
	require.NoError(t, err)

	// a create followed by two updates of the same record within one frame
	batcher.Enqueue(newShapeEvent(model.AddedChange, "s1", 10))
	batcher.Enqueue(newShapeEvent(model.UpdatedChange, "s1", 20))
	batcher.Enqueue(newShapeEvent(model.UpdatedChange, "s1", 30))
	require.Zero(t, rec.SentCount(), "nothing sent before a timer fires")

	sched.Advance(DefaultFrameDuration)

	msgs := rec.SyncMessages(t)
	require.Len(t, msgs, 1)
	require.Equal(t, "u1", msgs[0].UserId)
	require.Equal(t, "p1", msgs[0].PageId)

	// the burst collapsed into a single add carrying the latest value
	payload := msgs[0].Payload
	require.Len(t, payload.Added, 1)
	require.Empty(t, payload.Updated)
	require.Empty(t, payload.Removed)
	added := payload.Added[model.ShapeRecordId("s1")]
	require.Equal(t, 30.0, added["props"].(map[string]interface{})["w"])

	// nothing pending, further timers send nothing
	sched.Advance(time.Second)
	require.Equal(t, 1, rec.SentCount())
}

// Test checks that an add canceled by a remove produces no wire traffic.
func Test_Batcher_AddRemoveCancels(t *testing.T) {
	sched := newVirtualScheduler()
	rec := newSendRecorder(sched)

	batcher, err := NewChangeBatcher("u1", "p1", sched, rec.Send)
	require.NoError(t, err)

	batcher.Enqueue(newShapeEvent(model.AddedChange, "s1", 10))
	batcher.Enqueue(newShapeEvent(model.RemovedChange, "s1", 10))

	sched.Advance(time.Second)
	require.Zero(t, rec.SentCount())
}

// Test checks the minimum spacing between consecutive sends: a capped flush
// is deferred, never dropped.
func Test_Batcher_RateCap(t *testing.T) {
	sched := newVirtualScheduler()
	rec := newSendRecorder(sched)

	batcher, err := NewChangeBatcher("u1", "p1", sched, rec.Send)
	require.NoError(t, err)

	// first gesture flushes on the idle timer
	batcher.Enqueue(newShapeEvent(model.AddedChange, "s1", 10))
	sched.Advance(idleFlushDelay)
	require.Equal(t, 1, rec.SentCount())

	// a second mutation right after: the pending frame callback lands inside
	// the rate cap window, so the flush is rescheduled
	batcher.Enqueue(newShapeEvent(model.AddedChange, "s2", 10))
	sched.Advance(time.Second)
	require.Equal(t, 2, rec.SentCount())

	times := rec.SendTimes()
	require.GreaterOrEqual(t, int64(times[1].Sub(times[0])), int64(minSendInterval), "send spacing")

	// the deferred batch arrived intact
	msgs := rec.SyncMessages(t)
	require.Contains(t, msgs[1].Payload.Added, model.ShapeRecordId("s2"))
}

// Test checks that a failed send restores its changes for the next flush.
func Test_Batcher_SendFailureRetry(t *testing.T) {
	sched := newVirtualScheduler()
	rec := newSendRecorder(sched)

	batcher, err := NewChangeBatcher("u1", "p1", sched, rec.Send)
	require.NoError(t, err)

	rec.SetFailing(true)
	batcher.Enqueue(newShapeEvent(model.AddedChange, "s1", 10))
	sched.Advance(100 * time.Millisecond)
	require.Zero(t, rec.SentCount())

	// new edits pile on top of the restored in-flight batch
	rec.SetFailing(false)
	batcher.Enqueue(newShapeEvent(model.AddedChange, "s2", 10))
	sched.Advance(100 * time.Millisecond)

	msgs := rec.SyncMessages(t)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.Contains(t, last.Payload.Added, model.ShapeRecordId("s1"))
	require.Contains(t, last.Payload.Added, model.ShapeRecordId("s2"))
}

// Test checks the forced final flush on Close.
func Test_Batcher_Close(t *testing.T) {
	sched := newVirtualScheduler()
	rec := newSendRecorder(sched)

	batcher, err := NewChangeBatcher("u1", "p1", sched, rec.Send)
	require.NoError(t, err)

	batcher.Enqueue(newShapeEvent(model.AddedChange, "s1", 10))
	batcher.Close()

	// the trailing edit went out without waiting for any timer
	require.Equal(t, 1, rec.SentCount())

	// a closed batcher ignores everything
	batcher.Enqueue(newShapeEvent(model.AddedChange, "s2", 10))
	batcher.Close()
	sched.Advance(time.Second)
	require.Equal(t, 1, rec.SentCount())
}

// Test checks the constructor argument validation.
func Test_Batcher_New(t *testing.T) {
	sched := newVirtualScheduler()
	rec := newSendRecorder(sched)

	_, err := NewChangeBatcher("", "p1", sched, rec.Send)
	require.Error(t, err)
	_, err = NewChangeBatcher("u1", "", sched, rec.Send)
	require.Error(t, err)
	_, err = NewChangeBatcher("u1", "p1", nil, rec.Send)
	require.Error(t, err)
	_, err = NewChangeBatcher("u1", "p1", sched, nil)
	require.Error(t, err)
}
