package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/episode-engine/internal/router"
	"github.com/jwebster45206/episode-engine/internal/services/queue"
	"github.com/jwebster45206/episode-engine/pkg/episode"
	queuePkg "github.com/jwebster45206/episode-engine/pkg/queue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	seen   []string
	failOn string
}

func (f *fakeSubmitter) Submit(_ context.Context, playerID string, ev episode.Event) (*router.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, playerID+":"+ev.Target)
	if f.failOn != "" && ev.Target == f.failOn {
		return nil, errors.New("storage unavailable")
	}
	return &router.Summary{PlayerID: playerID, EventID: ev.ID, Advanced: []string{}}, nil
}

func (f *fakeSubmitter) Seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) add(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, s)
	return nil
}

func (p *fakePublisher) PublishRequestProcessing(_ context.Context, _, requestID, _ string) error {
	return p.add("processing:" + requestID)
}

func (p *fakePublisher) PublishRequestCompleted(_ context.Context, _, requestID string, _ any) error {
	return p.add("completed:" + requestID)
}

func (p *fakePublisher) PublishRequestFailed(_ context.Context, _, requestID, _ string) error {
	return p.add("failed:" + requestID)
}

type harness struct {
	mr        *miniredis.Miniredis
	queue     *queue.PlayerQueue
	submitter *fakeSubmitter
	publisher *fakePublisher
	worker    *Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pq := queue.NewPlayerQueue(queue.NewClientWithRedis(rdb, logger))
	sub := &fakeSubmitter{}
	pub := &fakePublisher{}
	w := New(pq, sub, pub, rdb, logger, "worker-test").WithPollTimeout(time.Second)
	w.retryDelay = 0
	t.Cleanup(w.Stop)

	return &harness{mr: mr, queue: pq, submitter: sub, publisher: pub, worker: w}
}

func (h *harness) enqueue(t *testing.T, playerID, target string) *queuePkg.Request {
	t.Helper()
	req := queuePkg.NewRequest(playerID, episode.Event{Kind: episode.EventItemObtained, Target: target})
	require.NoError(t, h.queue.Enqueue(context.Background(), req))
	return req
}

func TestWorker_DrainsPlayerInOrder(t *testing.T) {
	h := newHarness(t)
	first := h.enqueue(t, "p1", "a")
	h.enqueue(t, "p1", "b")
	h.enqueue(t, "p1", "c")

	require.NoError(t, h.worker.processNext())

	assert.Equal(t, []string{"p1:a", "p1:b", "p1:c"}, h.submitter.Seen())
	assert.Contains(t, h.publisher.events, "processing:"+first.RequestID)
	assert.Contains(t, h.publisher.events, "completed:"+first.RequestID)
	assert.False(t, h.mr.Exists("player-drain:p1"), "lock released after drain")

	depth, err := h.queue.Depth(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestWorker_SkipsLockedPlayer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mr.Set("player-drain:p1", "worker-other"))
	h.enqueue(t, "p1", "a")

	require.NoError(t, h.worker.processNext())

	assert.Empty(t, h.submitter.Seen())
	ready, err := h.mr.List("ready-players")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ready, "token returned for the lock holder's successor")
	got, err := h.mr.Get("player-drain:p1")
	require.NoError(t, err)
	assert.Equal(t, "worker-other", got, "foreign lock left alone")
}

func TestWorker_FailureIsPublishedAndDrainContinues(t *testing.T) {
	h := newHarness(t)
	h.submitter.failOn = "bad"
	bad := h.enqueue(t, "p1", "bad")
	good := h.enqueue(t, "p1", "good")

	require.NoError(t, h.worker.processNext())

	assert.Equal(t, []string{"p1:bad", "p1:good"}, h.submitter.Seen())
	assert.Contains(t, h.publisher.events, "failed:"+bad.RequestID)
	assert.Contains(t, h.publisher.events, "completed:"+good.RequestID)
}

func TestWorker_BatchSizeRequeuesRemainder(t *testing.T) {
	h := newHarness(t)
	h.worker.WithBatchSize(2)
	for _, target := range []string{"a", "b", "c"} {
		h.enqueue(t, "p1", target)
	}
	// Drop the extra tokens so only the re-mark is left afterwards
	h.mr.Del("ready-players")
	require.NoError(t, h.worker.queue.MarkReady(context.Background(), "p1"))

	require.NoError(t, h.worker.processNext())
	assert.Equal(t, []string{"p1:a", "p1:b"}, h.submitter.Seen())

	ready, err := h.mr.List("ready-players")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ready)

	require.NoError(t, h.worker.processNext())
	assert.Equal(t, []string{"p1:a", "p1:b", "p1:c"}, h.submitter.Seen())
	assert.False(t, h.mr.Exists("ready-players"))
}

func TestWorker_StartAndStop(t *testing.T) {
	h := newHarness(t)

	done := make(chan error, 1)
	go func() { done <- h.worker.Start() }()

	h.enqueue(t, "p1", "a")
	h.enqueue(t, "p2", "b")

	require.Eventually(t, func() bool {
		return len(h.submitter.Seen()) == 2
	}, 3*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t, []string{"p1:a", "p2:b"}, h.submitter.Seen())

	h.worker.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
