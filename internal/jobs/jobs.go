// Package jobs schedules the delayed and background work of a game: AI
// submissions, phase timeouts and AI judging.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindGenerateAI       Kind = "generate_ai_submissions"
	KindExpireSubmitting Kind = "expire_submitting"
	KindExpireJudging    Kind = "expire_judging"
	KindJudgeRound       Kind = "judge_round"
)

// Task is comparable so schedulers can deduplicate pending work.
type Task struct {
	Kind    Kind      `json:"kind"`
	GameID  uuid.UUID `json:"gameId"`
	RoundID uuid.UUID `json:"roundId"`
}

func (t Task) String() string {
	return fmt.Sprintf("%s(round=%s)", t.Kind, t.RoundID)
}

// Handler executes a task. Handlers must tolerate running a task more than
// once and after the round has moved on.
type Handler interface {
	HandleTask(ctx context.Context, t Task) error
}

type HandlerFunc func(ctx context.Context, t Task) error

func (f HandlerFunc) HandleTask(ctx context.Context, t Task) error { return f(ctx, t) }

// Scheduler runs a task after delay. It is fire-and-forget from the caller's
// point of view; errors only report that the task could not be enqueued.
type Scheduler interface {
	RunAfter(ctx context.Context, delay time.Duration, t Task) error
}
