package timeline

import (
	"context"
	"time"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

// ActiveDuration sums, per turn, the span from its anchor to its last
// output. When ctx is cancelled it returns the partial sum with ctx.Err().
func ActiveDuration(ctx context.Context, turns []model.ConversationTurn) (time.Duration, error) {
	var total time.Duration
	for _, t := range turns {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if len(t.Outputs) == 0 {
			continue
		}
		start := t.Timestamp
		if t.UserMessage != nil {
			start = t.UserMessage.Timestamp
		}
		if d := t.LastActivity().Sub(start); d > 0 {
			total += d
		}
	}
	return total, nil
}

// Counts is what a turn list says about message counts.
type Counts struct {
	Turns     int
	UserTurns int
}

func CountTurns(turns []model.ConversationTurn) Counts {
	c := Counts{Turns: len(turns)}
	for _, t := range turns {
		if t.UserMessage != nil {
			c.UserTurns++
		}
	}
	return c
}
