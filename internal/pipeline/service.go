package pipeline

import (
	"context"
	"image"
	"io"

	"pixel-blueprint/internal/blueprint"
	"pixel-blueprint/internal/export"
	"pixel-blueprint/internal/layout"
	"pixel-blueprint/internal/render"
	"pixel-blueprint/internal/store"
	"pixel-blueprint/internal/verify"

	"go.uber.org/zap"
)

// Service runs the pipeline over documents kept in a store.
type Service struct {
	*Pipeline
	store  *store.Store
	logger *zap.Logger
}

// NewService creates a service over p and st.
func NewService(p *Pipeline, st *store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Pipeline: p, store: st, logger: logger.Named("service")}
}

// Ingest builds a document from image bytes and stores it with its source.
func (s *Service) Ingest(ctx context.Context, data []byte, name string, hints *layout.SemanticHints) (*Ingested, error) {
	in, err := s.Build(ctx, data, name, hints)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, in.Document, data); err != nil {
		return nil, err
	}
	return in, nil
}

// Get loads a document.
func (s *Service) Get(ctx context.Context, id string) (*blueprint.Document, error) {
	return s.store.Get(ctx, id)
}

// List returns document summaries.
func (s *Service) List(ctx context.Context) ([]store.Summary, error) {
	return s.store.List(ctx)
}

// Delete removes a document.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// History returns the full verification history of a document.
func (s *Service) History(ctx context.Context, id string) ([]blueprint.DiffEntry, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Diffs(ctx, id)
}

// Lock locks a document against its current source and nodes.
func (s *Service) Lock(ctx context.Context, id string) (*blueprint.Document, error) {
	return s.mutate(ctx, id, func(doc *blueprint.Document) error {
		doc.Lock()
		return nil
	})
}

// Unlock releases a document's lock.
func (s *Service) Unlock(ctx context.Context, id string) (*blueprint.Document, error) {
	return s.mutate(ctx, id, func(doc *blueprint.Document) error {
		doc.Unlock()
		return nil
	})
}

// Review applies a layout hint review.
func (s *Service) Review(ctx context.Context, id string, r Review) (*blueprint.Document, error) {
	return s.mutate(ctx, id, func(doc *blueprint.Document) error {
		return s.ApplyReview(doc, r)
	})
}

// ApplySemantic rebuilds a document's tree with semantic hints.
func (s *Service) ApplySemantic(ctx context.Context, id string, hints *layout.SemanticHints) (layout.SemanticSummary, error) {
	var sum layout.SemanticSummary
	_, err := s.mutate(ctx, id, func(doc *blueprint.Document) error {
		var err error
		sum, err = s.Reapply(doc, hints)
		return err
	})
	return sum, err
}

func (s *Service) mutate(ctx context.Context, id string, fn func(*blueprint.Document) error) (*blueprint.Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// VerifyStored verifies a stored document against its stored source and
// records the outcome.
func (s *Service) VerifyStored(ctx context.Context, id string) (*verify.Report, error) {
	doc, source, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	rep, entry, err := s.Verify(ctx, doc, source)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.store.AppendDiff(ctx, id, entry); err != nil {
		return nil, err
	}
	return rep, nil
}

// GateStored evaluates the export gate of a stored document.
func (s *Service) GateStored(ctx context.Context, id string) (GateReport, error) {
	doc, source, err := s.load(ctx, id)
	if err != nil {
		return GateReport{}, err
	}
	return s.Gate(doc, source), nil
}

// ExportStored exports a stored document if its gate allows it.
func (s *Service) ExportStored(ctx context.Context, id string, w io.Writer, f export.Format) (GateReport, error) {
	doc, source, err := s.load(ctx, id)
	if err != nil {
		return GateReport{}, err
	}
	rep, err := s.Export(w, f, doc, source)
	if err != nil {
		s.logger.Info("Export refused", zap.String("id", id), zap.Strings("reasons", rep.Decision.Strings()))
	}
	return rep, err
}

// TraceStored replays the scan of a stored document.
func (s *Service) TraceStored(ctx context.Context, id string, withMarks bool) (TraceReport, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return TraceReport{}, err
	}
	return s.Trace(doc, withMarks), nil
}

// OverlayStored draws the QA overlay of a stored document.
func (s *Service) OverlayStored(ctx context.Context, id string, opts render.OverlayOptions) (*image.RGBA, error) {
	doc, source, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Overlay(doc, source, opts)
}

func (s *Service) load(ctx context.Context, id string) (*blueprint.Document, []byte, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	source, err := s.store.Source(ctx, doc.Image.Hash)
	if err != nil {
		return nil, nil, err
	}
	return doc, source, nil
}
