// Package ingest turns a resume file into a reviewed knowledge graph:
// parse, clean, split, extract, review, embed and write.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/agent"
	"github.com/nidhogg/resumemind/internal/config"
	"github.com/nidhogg/resumemind/internal/document"
	"github.com/nidhogg/resumemind/internal/embedding"
	"github.com/nidhogg/resumemind/internal/graph"
	"github.com/nidhogg/resumemind/internal/store"
)

// Stage names one step of an ingestion run.
type Stage string

const (
	StageParse   Stage = "parse"
	StagePersist Stage = "persist"
	StageClean   Stage = "clean"
	StageSplit   Stage = "split"
	StageExtract Stage = "extract"
	StageReview  Stage = "review"
	StageEmbed   Stage = "embed"
	StageGraph   Stage = "graph"
	StageIndex   Stage = "index"
)

// Observer is told about stage progress and decides whether a failed stage
// is retried.
type Observer interface {
	StageStarted(s Stage)
	StageFinished(s Stage, detail string)
	// StageFailed returns true to run the stage again.
	StageFailed(s Stage, err error) bool
}

// LogObserver logs progress and never retries.
type LogObserver struct{ Logger *zap.Logger }

func (o LogObserver) StageStarted(s Stage) { o.Logger.Debug("stage started", zap.String("stage", string(s))) }

func (o LogObserver) StageFinished(s Stage, detail string) {
	o.Logger.Info("stage finished", zap.String("stage", string(s)), zap.String("detail", detail))
}

func (o LogObserver) StageFailed(s Stage, err error) bool {
	o.Logger.Warn("stage failed", zap.String("stage", string(s)), zap.Error(err))
	return false
}

// StageError reports the stage an ingestion stopped at.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Parser converts a file to markdown.
type Parser interface {
	Convert(ctx context.Context, path string) (*document.Document, error)
}

// Records persists resume ingestion state.
type Records interface {
	SaveResume(ctx context.Context, rec *store.ResumeRecord) error
	FindResumeByHash(ctx context.Context, contentHash string) (*store.ResumeRecord, error)
	UpdateCleaned(ctx context.Context, resumeID, cleaned string) error
	MarkCompleted(ctx context.Context, resumeID string) error
	MarkFailed(ctx context.Context, resumeID, reason string) error
}

// Indexer stores relationship vectors for question answering.
type Indexer interface {
	IndexResume(ctx context.Context, resumeID string, x *graph.Extraction) (int, error)
	DeleteResume(ctx context.Context, resumeID string) error
}

// Deps are the collaborators of a Pipeline. Embedder, Graph and Index are
// optional; their stages are skipped when nil.
type Deps struct {
	Parser   Parser
	Records  Records
	Engine   *agent.Engine
	Embedder embedding.Provider
	Graph    graph.Store
	Index    Indexer
	Reviewer Reviewer
	Observer Observer
}

// Pipeline runs resume ingestions.
type Pipeline struct {
	parser   Parser
	records  Records
	engine   *agent.Engine
	embedder embedding.Provider
	graph    graph.Store
	index    Indexer
	reviewer Reviewer
	observer Observer
	cfg      config.IngestConfig
	logger   *zap.Logger
}

// New builds a pipeline and registers its agents on d.Engine.
func New(d Deps, cfg config.IngestConfig, logger *zap.Logger) *Pipeline {
	if cfg.ContextChars <= 0 {
		cfg.ContextChars = 500
	}
	if cfg.CleanRounds <= 0 {
		cfg.CleanRounds = 3
	}
	p := &Pipeline{
		parser:   d.Parser,
		records:  d.Records,
		engine:   d.Engine,
		embedder: d.Embedder,
		graph:    d.Graph,
		index:    d.Index,
		reviewer: d.Reviewer,
		observer: d.Observer,
		cfg:      cfg,
		logger:   logger,
	}
	if p.reviewer == nil || !cfg.ReviewEnabled {
		p.reviewer = AcceptAllReviewer{}
	}
	if p.observer == nil {
		p.observer = LogObserver{Logger: logger}
	}
	RegisterAgents(d.Engine)
	return p
}

// Options modify a single run.
type Options struct {
	// Force re-ingests content that was already completed.
	Force bool
}

// Result summarises a run.
type Result struct {
	ResumeID   string
	FileName   string
	Duplicate  bool
	// Replaced is set when an earlier ingestion of the same content was
	// removed from the graph and the index before writing.
	Replaced   bool
	Cleaned    *Cleaned
	Sections   []Section
	Extraction *graph.Extraction
	Dropped    int
	Review     ReviewOutcome
	Embedded   int
	Indexed    int
	GraphWrite bool
	Duration   time.Duration
}

// Run ingests one file. A completed resume with identical content is not
// processed again unless opts.Force is set; the result then has Duplicate set.
func (p *Pipeline) Run(ctx context.Context, path string, opts Options) (*Result, error) {
	start := time.Now()
	res := &Result{FileName: filepath.Base(path)}

	var doc *document.Document
	if err := p.stage(ctx, StageParse, func() (string, error) {
		var err error
		doc, err = p.parser.Convert(ctx, path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s, %d characters", doc.Format, len(doc.Markdown)), nil
	}); err != nil {
		return nil, err
	}
	res.FileName = doc.Name

	var rec *store.ResumeRecord
	var earlier bool
	if err := p.stage(ctx, StagePersist, func() (string, error) {
		var err error
		rec, earlier, err = p.persist(ctx, doc, opts)
		if err != nil {
			return "", err
		}
		return rec.ResumeID, nil
	}); err != nil {
		return nil, err
	}
	res.ResumeID = rec.ResumeID
	if rec.Status == store.StatusCompleted && !opts.Force {
		res.Duplicate = true
		res.Duration = time.Since(start)
		return res, nil
	}

	res.Replaced = earlier
	if err := p.process(ctx, doc, res); err != nil {
		reason := err.Error()
		if errors.Is(err, ErrCancelled) {
			reason = ErrCancelled.Error()
		}
		// Record the failure even if ctx was cancelled.
		if ferr := p.records.MarkFailed(context.WithoutCancel(ctx), res.ResumeID, reason); ferr != nil {
			p.logger.Error("mark resume failed", zap.String("resume_id", res.ResumeID), zap.Error(ferr))
		}
		return res, err
	}
	if err := p.records.MarkCompleted(ctx, res.ResumeID); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)
	p.logger.Info("resume ingested",
		zap.String("resume_id", res.ResumeID),
		zap.String("file", res.FileName),
		zap.Int("entities", len(res.Extraction.Entities)),
		zap.Int("triples", len(res.Extraction.Triples)),
		zap.Duration("took", res.Duration))
	return res, nil
}

// persist reuses the record of identical content or creates a pending one.
// It reports whether an earlier record is being ingested again.
func (p *Pipeline) persist(ctx context.Context, doc *document.Document, opts Options) (*store.ResumeRecord, bool, error) {
	hash := store.ContentHash(doc.Markdown)
	existing, err := p.records.FindResumeByHash(ctx, hash)
	switch {
	case err == nil:
		if existing.Status == store.StatusCompleted && !opts.Force {
			return existing, false, nil
		}
	case errors.Is(err, store.ErrNotFound):
		existing = nil
	default:
		return nil, false, err
	}

	rec := &store.ResumeRecord{
		ResumeID:    store.ResumeID(doc.Path, hash),
		FileName:    doc.Name,
		FilePath:    doc.Path,
		FileSize:    doc.Size,
		FileType:    doc.Format,
		RawContent:  doc.Markdown,
		ContentHash: hash,
	}
	if existing != nil {
		rec.ResumeID = existing.ResumeID
	}
	if err := p.records.SaveResume(ctx, rec); err != nil {
		return nil, false, err
	}
	return rec, existing != nil, nil
}

func (p *Pipeline) process(ctx context.Context, doc *document.Document, res *Result) error {
	if err := p.stage(ctx, StageClean, func() (string, error) {
		cleaned, err := p.Clean(ctx, doc.Markdown)
		if err != nil {
			return "", err
		}
		if err := p.records.UpdateCleaned(ctx, res.ResumeID, cleaned.Markdown); err != nil {
			return "", err
		}
		res.Cleaned = cleaned
		return fmt.Sprintf("approved=%t after %d round(s)", cleaned.Valid, cleaned.Rounds), nil
	}); err != nil {
		return err
	}

	resumeContext := Context(res.Cleaned.Markdown, p.cfg.ContextChars)
	if err := p.stage(ctx, StageSplit, func() (string, error) {
		res.Sections = SplitSections(res.Cleaned.Markdown)
		if len(res.Sections) == 0 {
			return "", errors.New("cleaned resume has no content")
		}
		return fmt.Sprintf("%d section(s)", len(res.Sections)), nil
	}); err != nil {
		return err
	}

	if err := p.stage(ctx, StageExtract, func() (string, error) {
		x, dropped, err := p.Extract(ctx, res.Sections, resumeContext)
		if err != nil {
			return "", err
		}
		res.Extraction, res.Dropped = x, dropped
		if len(x.Triples) == 0 {
			return "", fmt.Errorf("%w (%d dropped)", ErrNoRelationships, dropped)
		}
		return fmt.Sprintf("%d entities, %d triples, %d dropped", len(x.Entities), len(x.Triples), dropped), nil
	}); err != nil {
		return err
	}

	if err := p.stage(ctx, StageReview, func() (string, error) {
		out, err := ReviewExtraction(ctx, p.reviewer, res.Extraction)
		if err != nil {
			return "", err
		}
		res.Review = out
		return fmt.Sprintf("%d accepted, %d rejected, %d edited", out.Accepted, out.Rejected, out.Edited), nil
	}); err != nil {
		return err
	}

	if p.embedder != nil {
		if err := p.stage(ctx, StageEmbed, func() (string, error) {
			n, err := EmbedExtraction(ctx, p.embedder, res.Extraction, resumeContext)
			if err != nil {
				return "", err
			}
			res.Embedded = n
			return fmt.Sprintf("%d vectors", n), nil
		}); err != nil {
			return err
		}
	}

	if p.graph != nil {
		if err := p.stage(ctx, StageGraph, func() (string, error) {
			// Drop what an earlier run wrote so rejected triples do not survive.
			if res.Replaced {
				if err := p.graph.DeleteResume(ctx, res.ResumeID); err != nil {
					return "", fmt.Errorf("remove earlier graph: %w", err)
				}
			}
			if err := p.graph.WriteResume(ctx, res.ResumeID, res.Extraction); err != nil {
				return "", err
			}
			res.GraphWrite = true
			return fmt.Sprintf("%d nodes, %d relationships", len(res.Extraction.Entities), len(res.Extraction.Triples)), nil
		}); err != nil {
			return err
		}
	}

	if p.index != nil && res.Replaced {
		// The collection may not exist yet when the earlier run had no vectors.
		if err := p.index.DeleteResume(ctx, res.ResumeID); err != nil {
			p.logger.Warn("remove earlier index entries", zap.String("resume_id", res.ResumeID), zap.Error(err))
		}
	}
	if p.index != nil && res.Embedded > 0 {
		if err := p.stage(ctx, StageIndex, func() (string, error) {
			n, err := p.index.IndexResume(ctx, res.ResumeID, res.Extraction)
			if err != nil {
				return "", err
			}
			res.Indexed = n
			return fmt.Sprintf("%d points", n), nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// stage runs fn, asking the observer whether to retry after a failure.
// Cancellation is never retried.
func (p *Pipeline) stage(ctx context.Context, s Stage, fn func() (string, error)) error {
	for {
		p.observer.StageStarted(s)
		detail, err := fn()
		if err == nil {
			p.observer.StageFinished(s, detail)
			return nil
		}
		if errors.Is(err, ErrCancelled) || ctx.Err() != nil || !p.observer.StageFailed(s, err) {
			return &StageError{Stage: s, Err: err}
		}
		p.logger.Info("retrying stage", zap.String("stage", string(s)))
	}
}
