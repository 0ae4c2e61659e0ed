package index

import (
	"context"

	"github.com/zhang3xing1/codmate-sub000/internal/model"
)

// Status tells whether a record holds a usable summary.
type Status string

const (
	StatusOK Status = "ok"
	// StatusExcluded marks auxiliary files that never hold a session.
	StatusExcluded Status = "excluded"
	// StatusIncomplete marks files that never yielded a session identity.
	StatusIncomplete Status = "incomplete"
)

// Record is the cache entry for one source file. Mtime and Size are the
// change signature the record was derived from.
type Record struct {
	Path         string
	Source       model.Source
	Mtime        int64
	Size         int64
	Level        model.ParseLevel
	Status       Status
	Summary      *model.SessionSummary
	Instructions string
}

func (r Record) SessionID() string {
	if r.Summary == nil {
		return ""
	}
	return r.Summary.ID
}

func (r Record) matches(mtime, size int64) bool {
	return r.Mtime == mtime && r.Size == size
}

// Preview is a materialized timeline, valid while Signature matches the
// files it was built from.
type Preview struct {
	SessionID    string
	Signature    string
	Summary      model.SessionSummary
	Paths        []string
	Turns        []model.ConversationTurn
	Environment  []model.TimelineEvent
	LatestTokens *model.TimelineEvent
}

type Meta struct {
	SessionCount  int
	RecordCount   int
	PreviewCount  int
	SchemaVersion string
}

// Store is the durable record table. The Index is its only writer.
type Store interface {
	// Fetch returns the record for path only if its signature matches.
	Fetch(ctx context.Context, path string, mtime, size int64) (*Record, error)
	FetchByPath(ctx context.Context, path string) (*Record, error)
	// FetchBySession returns the usable records carrying session id.
	FetchBySession(ctx context.Context, id string) ([]Record, error)
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, path string) error
	FetchAll(ctx context.Context) ([]Record, error)
	FetchMeta(ctx context.Context) (Meta, error)

	FetchPreview(ctx context.Context, sessionID, signature string) (*Preview, error)
	UpsertPreview(ctx context.Context, p Preview) error
	DeletePreviews(ctx context.Context, sessionID string) error

	Close() error
}
