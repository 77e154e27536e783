// Package notify tells operators and downstream systems that a call note was written.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Summary is the short digest sent after a note is persisted.
type Summary struct {
	DealID          int64   `json:"deal_id"`
	ClientName      string  `json:"client_name"`
	Outcome         string  `json:"call_result"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Multi fans a summary out to every sink and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, s Summary) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every summary.
type Nop struct{}

func (Nop) Notify(context.Context, Summary) error { return nil }

// ClockDuration renders seconds as m:ss.
func ClockDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
