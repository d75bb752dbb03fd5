package pipeline

import (
	"context"

	"github.com/haukened/dper/internal/dper/domain"
	"github.com/haukened/dper/internal/dper/repos/journal"
)

type Fetcher interface {
	Fetch(ctx context.Context, req domain.FetchRequest) (domain.Payload, error)
}

type Parser interface {
	Parse(peerID string, format domain.PayloadFormat, data []byte) ([]domain.Peer, error)
}

type Renderer interface {
	Render(peers []domain.Peer) (string, error)
}

// Publisher replaces the live configuration when the rendered text changed.
type Publisher interface {
	Publish(ctx context.Context, text string, force bool) (bool, error)
	Path() string
}

type Reloader interface {
	Reload(ctx context.Context) error
}

// Journal records run outcomes. Failures to record never fail a run.
type Journal interface {
	RecordFetch(rec journal.FetchRecord) error
	RecordPublish(rec journal.PublishRecord) error
}
