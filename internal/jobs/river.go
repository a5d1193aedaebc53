package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"
)

const riverQueue = "game"

// Job args, one type per task kind so River can route and deduplicate them.

type GenerateAIArgs struct {
	Task Task `json:"task"`
}

func (GenerateAIArgs) Kind() string { return string(KindGenerateAI) }

type ExpireSubmittingArgs struct {
	Task Task `json:"task"`
}

func (ExpireSubmittingArgs) Kind() string { return string(KindExpireSubmitting) }

type ExpireJudgingArgs struct {
	Task Task `json:"task"`
}

func (ExpireJudgingArgs) Kind() string { return string(KindExpireJudging) }

type JudgeRoundArgs struct {
	Task Task `json:"task"`
}

func (JudgeRoundArgs) Kind() string { return string(KindJudgeRound) }

type taskArgs interface {
	river.JobArgs
	task() Task
}

func (a GenerateAIArgs) task() Task       { return a.Task }
func (a ExpireSubmittingArgs) task() Task { return a.Task }
func (a ExpireJudgingArgs) task() Task    { return a.Task }
func (a JudgeRoundArgs) task() Task       { return a.Task }

func argsFor(t Task) (river.JobArgs, error) {
	switch t.Kind {
	case KindGenerateAI:
		return GenerateAIArgs{Task: t}, nil
	case KindExpireSubmitting:
		return ExpireSubmittingArgs{Task: t}, nil
	case KindExpireJudging:
		return ExpireJudgingArgs{Task: t}, nil
	case KindJudgeRound:
		return JudgeRoundArgs{Task: t}, nil
	}
	return nil, fmt.Errorf("unknown task kind %q", t.Kind)
}

type taskWorker[T taskArgs] struct {
	river.WorkerDefaults[T]
	r *River
}

func (w *taskWorker[T]) Work(ctx context.Context, job *river.Job[T]) error {
	h := w.r.bound()
	if h == nil {
		return fmt.Errorf("no job handler bound for %s", job.Kind)
	}
	return h.HandleTask(ctx, job.Args.task())
}

// River is the durable Postgres-backed scheduler.
type River struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]

	mu      sync.RWMutex
	handler Handler
}

// NewRiver opens a pgx pool on dsn and builds a client with one worker per
// task kind.
func NewRiver(ctx context.Context, dsn string, maxWorkers int) (*River, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	r := &River{pool: pool}
	workers := river.NewWorkers()
	river.AddWorker(workers, &taskWorker[GenerateAIArgs]{r: r})
	river.AddWorker(workers, &taskWorker[ExpireSubmittingArgs]{r: r})
	river.AddWorker(workers, &taskWorker[ExpireJudgingArgs]{r: r})
	river.AddWorker(workers, &taskWorker[JudgeRoundArgs]{r: r})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			riverQueue: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create river client: %w", err)
	}
	r.client = client
	return r, nil
}

func (r *River) Bind(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *River) bound() Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler
}

// Migrate brings River's own tables up to date.
func (r *River) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(r.pool), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{})
	if err != nil {
		return fmt.Errorf("river migrate: %w", err)
	}
	log.Info().Int("versions", len(res.Versions)).Msg("river migrations applied")
	return nil
}

func (r *River) Start(ctx context.Context) error {
	if err := r.client.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	log.Info().Msg("river scheduler started")
	return nil
}

// Close releases the pool of a client that was never started.
func (r *River) Close() { r.pool.Close() }

func (r *River) Stop(ctx context.Context) error {
	err := r.client.Stop(ctx)
	r.pool.Close()
	return err
}

// RunAfter inserts a unique-by-args job so repeated scheduling of the same
// round task collapses into one row.
func (r *River) RunAfter(ctx context.Context, delay time.Duration, t Task) error {
	args, err := argsFor(t)
	if err != nil {
		return err
	}
	res, err := r.client.Insert(ctx, args, &river.InsertOpts{
		Queue:       riverQueue,
		ScheduledAt: time.Now().Add(delay),
		MaxAttempts: 3,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", t, err)
	}
	log.Debug().Str("task", t.String()).Int64("jobId", res.Job.ID).Bool("duplicate", res.UniqueSkippedAsDuplicate).Dur("delay", delay).Msg("job scheduled")
	return nil
}
