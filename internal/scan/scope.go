package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

type ScopeKind int

const (
	ScopeAll ScopeKind = iota
	// ScopeDay selects sessions whose dimension date falls on Date's day.
	ScopeDay
	// ScopeMonth selects sessions whose dimension date falls in Date's month.
	ScopeMonth
	// ScopeCalendarDay selects sessions active at any point of Date's day.
	ScopeCalendarDay
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeDay:
		return "day"
	case ScopeMonth:
		return "month"
	case ScopeCalendarDay:
		return "calendar-day"
	default:
		return "all"
	}
}

func ParseScopeKind(s string) (ScopeKind, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return ScopeAll, nil
	case "day":
		return ScopeDay, nil
	case "month":
		return ScopeMonth, nil
	case "calendar-day", "calendar":
		return ScopeCalendarDay, nil
	}
	return ScopeAll, fmt.Errorf("unknown scope %q", s)
}

// Dimension picks which session date a scope is matched against.
type Dimension int

const (
	DimensionCreated Dimension = iota
	DimensionUpdated
)

func (d Dimension) String() string {
	if d == DimensionUpdated {
		return "updated"
	}
	return "created"
}

func ParseDimension(s string) (Dimension, error) {
	switch strings.ToLower(s) {
	case "", "created":
		return DimensionCreated, nil
	case "updated":
		return DimensionUpdated, nil
	}
	return DimensionCreated, fmt.Errorf("unknown dimension %q", s)
}

type Scope struct {
	Kind      ScopeKind
	Date      time.Time
	Dimension Dimension
}

// All is the unrestricted scope.
func All() Scope { return Scope{} }

func Day(date time.Time, dim Dimension) Scope {
	return Scope{Kind: ScopeDay, Date: date, Dimension: dim}
}

func Month(date time.Time, dim Dimension) Scope {
	return Scope{Kind: ScopeMonth, Date: date, Dimension: dim}
}

func CalendarDay(date time.Time) Scope {
	return Scope{Kind: ScopeCalendarDay, Date: date, Dimension: DimensionUpdated}
}

func (s Scope) IsAll() bool { return s.Kind == ScopeAll }

func (s Scope) String() string {
	switch s.Kind {
	case ScopeAll:
		return "all"
	case ScopeMonth:
		return fmt.Sprintf("month %s (%s)", s.Date.Format("2006-01"), s.Dimension)
	default:
		return fmt.Sprintf("%s %s (%s)", s.Kind, s.Date.Format("2006-01-02"), s.Dimension)
	}
}

// Range returns the half-open local-time interval the scope covers. It is
// zero for ScopeAll.
func (s Scope) Range() (start, end time.Time) {
	d := s.Date.In(time.Local)
	switch s.Kind {
	case ScopeDay, ScopeCalendarDay:
		start = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.Local)
		return start, start.AddDate(0, 0, 1)
	case ScopeMonth:
		start = time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.Local)
		return start, start.AddDate(0, 1, 0)
	}
	return time.Time{}, time.Time{}
}

// Contains reports whether a parsed session belongs to the scope.
func (s Scope) Contains(sum model.SessionSummary) bool {
	if s.IsAll() {
		return true
	}
	start, end := s.Range()
	if s.Kind == ScopeCalendarDay {
		return sum.StartedAt.Before(end) && !sum.UpdatedAt().Before(start)
	}
	t := sum.StartedAt
	if s.Dimension == DimensionUpdated {
		t = sum.UpdatedAt()
	}
	return !t.Before(start) && t.Before(end)
}

// mayContain reports whether a file could hold an in-scope session judging
// by its modification time alone. A session cannot have been created or
// updated after its file was last written.
func (s Scope) mayContain(mtime time.Time) bool {
	if s.IsAll() {
		return true
	}
	start, _ := s.Range()
	return !mtime.Before(start)
}
