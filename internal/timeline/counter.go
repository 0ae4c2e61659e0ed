package timeline

import (
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

// Counter tallies turns one row at a time without keeping the rows. Each
// displayed event is reduced to the fields grouping looks at, with its text
// replaced by a digest, so Counts matches CountTurns(BuildTurns(rows)).
type Counter struct {
	stream []classified
}

func (c *Counter) Add(row model.Row) {
	if !row.Valid() {
		return
	}
	for _, cl := range classify(row) {
		if cl.env || cl.event.Kind == model.KindTokenUsage {
			continue
		}
		ev := cl.event
		cl.event = model.TimelineEvent{
			Timestamp:   ev.Timestamp,
			Actor:       ev.Actor,
			Kind:        ev.Kind,
			Title:       ev.Title,
			CallID:      ev.CallID,
			RepeatCount: ev.RepeatCount,
			Text:        digest(normalizeText(ev.Text)),
		}
		c.stream = append(c.stream, cl)
	}
}

func (c *Counter) Counts() Counts {
	stream := make([]classified, len(c.stream))
	copy(stream, c.stream)
	sort.SliceStable(stream, func(i, j int) bool {
		a, b := stream[i].event.Timestamp, stream[j].event.Timestamp
		if !a.Equal(b) {
			return a.Before(b)
		}
		return stream[i].seq < stream[j].seq
	})
	stream = pairToolOutputs(stream)
	stream = collapseRepeats(stream)
	return CountTurns(group(stream))
}

func digest(s string) string {
	if s == "" {
		return ""
	}
	h := fnv.New64a()
	h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 36)
}
