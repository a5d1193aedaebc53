package game

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kiliankoe/ai-against-humanity/internal/round"
	"github.com/kiliankoe/ai-against-humanity/internal/store"
)

// ResultsLog appends a plain-text record of every completed round to a file.
type ResultsLog struct {
	path string
	mu   sync.Mutex
}

func NewResultsLog(path string) *ResultsLog {
	return &ResultsLog{path: path}
}

func (l *ResultsLog) Path() string { return l.path }

// RoundReport is everything written for one completed round.
type RoundReport struct {
	Code         string
	GameMode     string
	Number       int
	Prompt       string
	Players      []PlayerView
	Submissions  []SubmissionView
	WinnerID     string
	GameFinished bool
	At           time.Time
}

func (m *Manager) export(ctx context.Context, res *round.Result) error {
	rep, err := store.View(ctx, m.Store, func(ctx context.Context, tx store.Tx) (*RoundReport, error) {
		st, err := loadState(ctx, tx, res.Game)
		if err != nil {
			return nil, err
		}
		prompt, err := tx.GetCard(ctx, res.Round.PromptCardID)
		if err != nil {
			return nil, err
		}
		subs, err := listSubmissions(ctx, tx, res.Round.ID)
		if err != nil {
			return nil, err
		}
		return &RoundReport{
			Code:         res.Game.InviteCode,
			GameMode:     res.Game.GameMode,
			Number:       res.Round.Number,
			Prompt:       prompt.Text,
			Players:      st.Players,
			Submissions:  subs,
			WinnerID:     res.Winner.ID.String(),
			GameFinished: res.GameFinished,
			At:           m.now(),
		}, nil
	})
	if err != nil {
		return err
	}
	return m.Results.Append(rep)
}

func (l *ResultsLog) Append(rep *RoundReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	_, statErr := os.Stat(l.path)
	exists := statErr == nil

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open results log: %w", err)
	}
	defer f.Close()

	names := make(map[string]string, len(rep.Players))
	for _, p := range rep.Players {
		names[p.ID.String()] = p.Name
	}
	stamp := rep.At.Format("2006-01-02 15:04:05")

	var sb strings.Builder
	if rep.Number == 1 {
		if exists {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "AI Against Humanity - Game %s (%s)\n", rep.Code, rep.GameMode)
		fmt.Fprintf(&sb, "Started: %s\n", stamp)
		sb.WriteString(strings.Repeat("=", 50) + "\n\n")
		sb.WriteString("Players:\n")
		for _, p := range rep.Players {
			kind := ""
			if p.IsAI {
				kind = " (AI)"
			}
			fmt.Fprintf(&sb, "- %s%s\n", p.Name, kind)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Round %d: %q\n", rep.Number, rep.Prompt)
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	for _, s := range rep.Submissions {
		mark := ""
		if s.PlayerID.String() == rep.WinnerID {
			mark = "  <- winner"
		}
		fmt.Fprintf(&sb, "- %s: %q%s\n", names[s.PlayerID.String()], s.Text, mark)
	}

	scores := slices.Clone(rep.Players)
	slices.SortStableFunc(scores, func(a, b PlayerView) int { return cmp.Compare(b.Score, a.Score) })
	sb.WriteString("\nScores after this round:\n")
	for _, p := range scores {
		fmt.Fprintf(&sb, "- %s: %d points\n", p.Name, p.Score)
	}
	sb.WriteString("\n")

	if rep.GameFinished {
		fmt.Fprintf(&sb, "Game ended at %s, winner: %s\n", stamp, names[rep.WinnerID])
		sb.WriteString(strings.Repeat("=", 50) + "\n")
	}

	if _, err := f.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write results log: %w", err)
	}
	return nil
}
