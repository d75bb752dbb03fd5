// Package pipeline runs one complete pass: fetch every peer, validate, check zone
// ownership, render, publish, and reload when the published file changed.
package pipeline

import (
	"context"
	"slices"
	"strings"

	logpkg "github.com/haukened/dper/internal/dper/common/log"
	"github.com/haukened/dper/internal/dper/domain"
	"github.com/haukened/dper/internal/dper/repos/journal"
	"github.com/haukened/dper/internal/dper/repos/registry"
)

type Pipeline struct {
	sources   []domain.PeerSource
	fetcher   Fetcher
	parser    Parser
	renderer  Renderer
	publisher Publisher
	reloader  Reloader
	journal   Journal
	logger    logpkg.Logger
}

// Options wires a Pipeline. Reloader and Journal are optional.
type Options struct {
	Sources   []domain.PeerSource
	Fetcher   Fetcher
	Parser    Parser
	Renderer  Renderer
	Publisher Publisher
	Reloader  Reloader
	Journal   Journal
	Logger    logpkg.Logger
}

// RunOptions are the per-invocation switches.
type RunOptions struct {
	// Offline reads every cached peer from its cache file without network access.
	Offline bool
	// Force replaces the live file even when nothing changed.
	Force bool
}

// Result summarizes a successful run.
type Result struct {
	Peers   int
	Zones   int
	Changed bool
}

func NewPipeline(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNoopLogger()
	}
	sources := slices.Clone(opts.Sources)
	slices.SortFunc(sources, func(a, b domain.PeerSource) int {
		return strings.Compare(a.ID, b.ID)
	})
	return &Pipeline{
		sources:   sources,
		fetcher:   opts.Fetcher,
		parser:    opts.Parser,
		renderer:  opts.Renderer,
		publisher: opts.Publisher,
		reloader:  opts.Reloader,
		journal:   opts.Journal,
		logger:    opts.Logger,
	}
}

// Run executes one pass. Sources are processed one at a time in peer id order.
// Any fetch, parse, validation or zone ownership error stops the run before the
// live file is touched. A failed reload is logged and does not fail the run.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (Result, error) {
	reg := registry.New(p.logger)

	for _, src := range p.sources {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		payload, err := p.fetcher.Fetch(ctx, src.Request(opts.Offline))
		if err != nil {
			return Result{}, err
		}

		peers, err := p.parser.Parse(src.ID, src.Format, payload.Data)
		if err != nil {
			return Result{}, err
		}
		reg.Add(peers...)

		p.logger.Debug(map[string]any{
			"peer":       src.ID,
			"peers":      len(peers),
			"from_cache": payload.FromCache,
		}, "peer processed")

		p.recordFetch(journal.FetchRecord{
			PeerID:    src.ID,
			URL:       src.URL,
			FromCache: payload.FromCache,
			Status:    payload.StatusCode,
			Bytes:     len(payload.Data),
			Peers:     len(peers),
		})
	}

	if err := reg.Check(); err != nil {
		return Result{}, err
	}

	text, err := p.renderer.Render(reg.Peers())
	if err != nil {
		return Result{}, err
	}

	changed, err := p.publisher.Publish(ctx, text, opts.Force)
	if err != nil {
		return Result{}, err
	}
	res := Result{Peers: reg.Len(), Zones: reg.Zones(), Changed: changed}

	p.recordPublish(journal.PublishRecord{
		Path:    p.publisher.Path(),
		Changed: changed,
		Forced:  opts.Force,
		Peers:   res.Peers,
		Zones:   res.Zones,
	})

	if changed && p.reloader != nil {
		if err := p.reloader.Reload(ctx); err != nil {
			p.logger.Warn(map[string]any{"error": err.Error()}, "reload failed, new configuration is published but not active")
		}
	}

	return res, nil
}

func (p *Pipeline) recordFetch(rec journal.FetchRecord) {
	if p.journal == nil {
		return
	}
	if err := p.journal.RecordFetch(rec); err != nil {
		p.logger.Warn(map[string]any{"peer": rec.PeerID, "error": err.Error()}, "journal write failed")
	}
}

func (p *Pipeline) recordPublish(rec journal.PublishRecord) {
	if p.journal == nil {
		return
	}
	if err := p.journal.RecordPublish(rec); err != nil {
		p.logger.Warn(map[string]any{"path": rec.Path, "error": err.Error()}, "journal write failed")
	}
}
