package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	tasks []Task
	seen  chan Task
}

func newRecorder() *recorder { return &recorder{seen: make(chan Task, 16)} }

func (r *recorder) HandleTask(_ context.Context, t Task) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	r.seen <- t
	return nil
}

func waitTask(t *testing.T, ch <-chan Task) Task {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
		return Task{}
	}
}

func TestPoolRunsAfterDelay(t *testing.T) {
	p := NewPool(2)
	rec := newRecorder()
	p.Bind(rec)
	p.Start(context.Background())
	defer p.Stop()

	task := Task{Kind: KindGenerateAI, GameID: uuid.New(), RoundID: uuid.New()}
	start := time.Now()
	require.NoError(t, p.RunAfter(context.Background(), 30*time.Millisecond, task))

	got := waitTask(t, rec.seen)
	assert.Equal(t, task, got)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPoolDeduplicatesPending(t *testing.T) {
	p := NewPool(1)
	rec := newRecorder()
	p.Bind(rec)

	task := Task{Kind: KindExpireSubmitting, RoundID: uuid.New()}
	require.NoError(t, p.RunAfter(context.Background(), 20*time.Millisecond, task))
	require.NoError(t, p.RunAfter(context.Background(), 20*time.Millisecond, task))
	assert.Equal(t, 1, p.Pending())

	p.Start(context.Background())
	defer p.Stop()
	waitTask(t, rec.seen)

	select {
	case <-rec.seen:
		t.Fatal("duplicate task ran")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, p.Pending())

	// once it ran, the same task may be scheduled again
	require.NoError(t, p.RunAfter(context.Background(), 0, task))
	waitTask(t, rec.seen)
}

func TestPoolHandlerErrorDoesNotStopWorkers(t *testing.T) {
	p := NewPool(1)
	calls := make(chan Task, 4)
	p.Bind(HandlerFunc(func(_ context.Context, t Task) error {
		calls <- t
		return errors.New("boom")
	}))
	p.Start(context.Background())
	defer p.Stop()

	require.NoError(t, p.RunAfter(context.Background(), 0, Task{Kind: KindJudgeRound, RoundID: uuid.New()}))
	require.NoError(t, p.RunAfter(context.Background(), 0, Task{Kind: KindJudgeRound, RoundID: uuid.New()}))
	waitTask(t, calls)
	waitTask(t, calls)
}

func TestPoolStopCancelsTimers(t *testing.T) {
	p := NewPool(1)
	rec := newRecorder()
	p.Bind(rec)
	p.Start(context.Background())

	require.NoError(t, p.RunAfter(context.Background(), 50*time.Millisecond, Task{Kind: KindExpireJudging, RoundID: uuid.New()}))
	p.Stop()

	select {
	case <-rec.seen:
		t.Fatal("task ran after stop")
	case <-time.After(120 * time.Millisecond):
	}
	assert.ErrorIs(t, p.RunAfter(context.Background(), 0, Task{}), ErrPoolStopped)
	p.Stop()
}

func TestArgsForKinds(t *testing.T) {
	for _, k := range []Kind{KindGenerateAI, KindExpireSubmitting, KindExpireJudging, KindJudgeRound} {
		args, err := argsFor(Task{Kind: k})
		require.NoError(t, err)
		assert.Equal(t, string(k), args.Kind())
		assert.Equal(t, k, args.(taskArgs).task().Kind)
	}
	_, err := argsFor(Task{Kind: "nope"})
	assert.Error(t, err)
}
