// Package api exposes the blueprint service over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/export"
	"pixel-blueprint/internal/layout"
	"pixel-blueprint/internal/pipeline"
	"pixel-blueprint/internal/render"
	"pixel-blueprint/internal/version"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server serves the blueprint API.
type Server struct {
	svc       *pipeline.Service
	maxUpload int64
	logger    *zap.Logger
	router    chi.Router
}

// New creates a server. maxUpload bounds request bodies; zero uses the
// service's image limit.
func New(svc *pipeline.Service, maxUpload int64, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUpload <= 0 {
		maxUpload = svc.Limits().MaxBytes
	}
	s := &Server{svc: svc, maxUpload: maxUpload, logger: logger.Named("api")}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1/blueprints", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Post("/lock", s.handleLock)
			r.Post("/unlock", s.handleUnlock)
			r.Post("/verify", s.handleVerify)
			r.Get("/diffs", s.handleDiffs)
			r.Get("/trace", s.handleTrace)
			r.Get("/gate", s.handleGate)
			r.Get("/export", s.handleExport)
			r.Get("/overlay.png", s.handleOverlay)
			r.Post("/review", s.handleReview)
			r.Post("/semantic", s.handleSemantic)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Get()})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// createResponse is returned by POST /v1/blueprints.
type createResponse struct {
	ID       string                 `json:"id"`
	BoxesLen int                    `json:"boxesLen"`
	NodesLen int                    `json:"nodesLen"`
	Semantic layout.SemanticSummary `json:"semantic"`
	OCRTexts int                    `json:"ocrTexts"`
	Dropped  []string               `json:"dropped,omitempty"`
}

// handleCreate accepts either a raw image body or a multipart form with an
// "image" file and an optional "hints" semantic hint document.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	name := r.URL.Query().Get("name")

	var data []byte
	var hints *layout.SemanticHints
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(s.maxUpload); err != nil {
			s.writeError(w, bodyError(err))
			return
		}
		defer r.MultipartForm.RemoveAll()
		f, _, err := r.FormFile("image")
		if err != nil {
			s.writeError(w, errs.Wrap(errs.CodeInvalidInput, err, "multipart form has no image file"))
			return
		}
		data, err = io.ReadAll(f)
		f.Close()
		if err != nil {
			s.writeError(w, bodyError(err))
			return
		}
		if raw := r.FormValue("hints"); raw != "" {
			if hints, err = layout.ParseSemanticHints([]byte(raw)); err != nil {
				s.writeError(w, err)
				return
			}
		}
		if v := r.FormValue("name"); v != "" {
			name = v
		}
	} else {
		var err error
		if data, err = io.ReadAll(r.Body); err != nil {
			s.writeError(w, bodyError(err))
			return
		}
	}

	in, err := s.svc.Ingest(r.Context(), data, name, hints)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/blueprints/"+in.Document.ID)
	writeJSON(w, http.StatusCreated, createResponse{
		ID:       in.Document.ID,
		BoxesLen: in.Document.BoxesLen,
		NodesLen: in.Document.NodesLen(),
		Semantic: in.Semantic,
		OCRTexts: in.OCRTexts,
		Dropped:  in.Tree.Dropped,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Lock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Locks)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Unlock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Locks)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.VerifyStored(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleDiffs(w http.ResponseWriter, r *http.Request) {
	diffs, err := s.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diffs)
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	withMarks, _ := strconv.ParseBool(r.URL.Query().Get("marks"))
	rep, err := s.svc.TraceStored(r.Context(), chi.URLParam(r, "id"), withMarks)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.GateStored(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleExport writes the artifact, or 409 with the gate decision when the
// gate refuses.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	rep, err := s.svc.ExportStored(r.Context(), chi.URLParam(r, "id"), &buf, f)
	if errs.HasCode(err, errs.CodeExportDenied) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error_code": errs.CodeExportDenied,
			"decision":   rep.Decision,
			"drift":      rep.Drift,
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	opts := render.DefaultOverlayOptions()
	opts.ShowTrace, _ = strconv.ParseBool(r.URL.Query().Get("trace"))
	img, err := s.svc.OverlayStored(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var rev pipeline.Review
	if err := decodeBody(w, r, s.maxUpload, &rev); err != nil {
		s.writeError(w, err)
		return
	}
	doc, err := s.svc.Review(r.Context(), chi.URLParam(r, "id"), rev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSemantic(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, bodyError(err))
		return
	}
	hints, err := layout.ParseSemanticHints(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sum, err := s.svc.ApplySemantic(r.Context(), chi.URLParam(r, "id"), hints)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return bodyError(err)
		}
		return errs.Wrap(errs.CodeInvalidInput, err, "invalid request body")
	}
	return nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errs.New(errs.CodeFileTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
	}
	return errs.Wrap(errs.CodeInvalidInput, err, "failed to read request body")
}

// statusOf maps an error code to an HTTP status.
func statusOf(code errs.Code) int {
	switch code {
	case errs.CodeInvalidInput:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case errs.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case errs.CodeDecodeFailed, errs.CodeDimensionMismatch:
		return http.StatusUnprocessableEntity
	case errs.CodeExportDenied:
		return http.StatusConflict
	case errs.CodeRasterizeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Wrap(errs.Code("INTERNAL"), err, "internal error")
	}
	status := statusOf(e.Code)
	if status >= 500 {
		s.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, e.ToMap())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
