package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pixel-blueprint/internal/api"
	"pixel-blueprint/internal/blueprint"
	"pixel-blueprint/internal/export"
	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/internal/layout"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/pipeline"
	"pixel-blueprint/internal/render"
	"pixel-blueprint/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	outPath     string
	exportPath  string
	overlayPath string
	sourcePath  string
	hintsPath   string
	docName     string
	withMarks   bool
	diffPath    string
	formatName  string
	showTrace   bool

	reviewNode     string
	reviewAction   string
	reviewFlow     string
	reviewer       string
	reviewNote     string
	reviewSemantic string
)

var extractCmd = &cobra.Command{
	Use:   "extract <image>",
	Short: "Extract boxes from a screenshot and write a blueprint",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

var traceCmd = &cobra.Command{
	Use:   "trace <blueprint>",
	Short: "Replay the serpentine scan and check it against the recorded trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrace,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <blueprint>",
	Short: "Render the blueprint and compare it with the source pixel for pixel",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var lockCmd = &cobra.Command{
	Use:   "lock <blueprint>",
	Short: "Lock a blueprint against its source and nodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDocument(args[0], func(doc *blueprint.Document) error {
			doc.Lock()
			return nil
		})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <blueprint>",
	Short: "Release a blueprint's lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editDocument(args[0], func(doc *blueprint.Document) error {
			doc.Unlock()
			return nil
		})
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <blueprint>",
	Short: "Override, approve or reject a layout hint, or apply semantic hints",
	Args:  cobra.ExactArgs(1),
	RunE:  runReview,
}

var gateCmd = &cobra.Command{
	Use:   "gate <blueprint>",
	Short: "Evaluate the export gate; exits non-zero when export is denied",
	Args:  cobra.ExactArgs(1),
	RunE:  runGate,
}

var exportCmd = &cobra.Command{
	Use:   "export <blueprint>",
	Short: "Export a blueprint as html, svg or json if the gate allows it",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var overlayCmd = &cobra.Command{
	Use:   "overlay <blueprint>",
	Short: "Draw the blueprint's boxes over its source image",
	Args:  cobra.ExactArgs(1),
	RunE:  runOverlay,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the blueprint HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	extractCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output blueprint (default: <image>.blueprint.json)")
	extractCmd.Flags().StringVar(&hintsPath, "hints", "", "Semantic hint document (JSON)")
	extractCmd.Flags().StringVar(&docName, "name", "", "Blueprint name (default: image file name)")

	traceCmd.Flags().BoolVar(&withMarks, "marks", false, "Include every scan mark in the output")

	for _, c := range []*cobra.Command{verifyCmd, gateCmd, exportCmd, overlayCmd} {
		c.Flags().StringVarP(&sourcePath, "source", "s", "", "Source image (required)")
		c.MarkFlagRequired("source")
	}
	verifyCmd.Flags().StringVar(&diffPath, "diff", "", "Write the mismatches tinted over the source to this PNG")

	exportCmd.Flags().StringVarP(&formatName, "format", "f", "html", "Export format: html, svg or json")
	exportCmd.Flags().StringVarP(&exportPath, "out", "o", "", "Output file (default: stdout)")

	overlayCmd.Flags().StringVarP(&overlayPath, "out", "o", "overlay.png", "Output PNG")
	overlayCmd.Flags().BoolVar(&showTrace, "trace", false, "Draw the scan path")

	reviewCmd.Flags().StringVar(&reviewNode, "node", "", "Node id")
	reviewCmd.Flags().StringVar(&reviewAction, "action", "", "override, approve or reject")
	reviewCmd.Flags().StringVar(&reviewFlow, "flow", "", "Flow for override: none, flex-col or flex-row")
	reviewCmd.Flags().StringVar(&reviewer, "reviewer", os.Getenv("USER"), "Reviewer name")
	reviewCmd.Flags().StringVar(&reviewNote, "note", "", "Review note")
	reviewCmd.Flags().StringVar(&reviewSemantic, "semantic", "", "Apply a semantic hint document instead of a single review")
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	var hints *layout.SemanticHints
	if hintsPath != "" {
		raw, err := os.ReadFile(hintsPath)
		if err != nil {
			return fmt.Errorf("failed to read hints: %w", err)
		}
		if hints, err = layout.ParseSemanticHints(raw); err != nil {
			return err
		}
	}

	p, cleanup, err := newPipeline()
	if err != nil {
		return err
	}
	defer cleanup()

	name := docName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}
	in, err := p.Build(ctx, data, name, hints)
	if err != nil {
		return err
	}

	out := outPath
	if out == "" {
		out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".blueprint.json"
	}
	if err := in.Document.Save(out); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Loaded %s image: %dx%d pixels\n", in.Source.Format, in.Source.Width(), in.Source.Height())
	fmt.Fprintf(w, "Step: %d  Grid: %dx%d  Threshold: %.1f  Edge cells: %d  Components: %d\n",
		in.Extract.Params.Step, in.Extract.Cols, in.Extract.Rows, in.Extract.Threshold,
		in.Extract.EdgeCells, in.Extract.Components)
	fmt.Fprintf(w, "\n%-12s %8s %8s %8s %8s %6s %-10s %-9s\n", "ID", "X", "Y", "W", "H", "Depth", "Kind", "Flow")
	fmt.Fprintln(w, strings.Repeat("-", 78))
	for _, n := range in.Document.Nodes {
		flow := "-"
		if n.LayoutHint != nil {
			flow = string(n.LayoutHint.Flow)
		}
		fmt.Fprintf(w, "%-12s %8.0f %8.0f %8.0f %8.0f %6d %-10s %-9s\n",
			n.ID, n.Rect.X, n.Rect.Y, n.Rect.W, n.Rect.H, n.Depth, n.Kind, flow)
	}
	fmt.Fprintf(w, "\nTotal: %d boxes, %d missing hints\nWrote %s\n",
		in.Document.BoxesLen, layout.MissingHintsIn(in.Document.Nodes), out)
	return nil
}

func runTrace(cmd *cobra.Command, args []string) error {
	doc, err := blueprint.Load(args[0])
	if err != nil {
		return err
	}
	p := pipeline.New(pipelineOptions(), nil, logger)
	rep := p.Trace(doc, withMarks)
	if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
		return err
	}
	if !rep.Matches {
		return fmt.Errorf("trace %s does not match recorded %s", rep.Hash, rep.Recorded)
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	doc, source, err := loadWithSource(args[0])
	if err != nil {
		return err
	}
	p, cleanup, err := newPipeline()
	if err != nil {
		return err
	}
	defer cleanup()

	rep, _, err := p.Verify(ctx, doc, source)
	if err != nil {
		return err
	}
	if err := doc.Save(args[0]); err != nil {
		return err
	}
	if diffPath != "" && rep.DiffImage != nil {
		src, err := imgsrc.DecodeDeclared(source, doc.Size(), cfg.ImageLimits())
		if err != nil {
			return err
		}
		if err := writePNG(diffPath, render.DiffOverlay(src.Image, rep.DiffImage)); err != nil {
			return err
		}
	}
	if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
		return err
	}
	if !rep.Metrics.Pass {
		return fmt.Errorf("verification failed: mismatch %.4f, iou %.4f", rep.Metrics.MismatchPct, rep.Metrics.IoU)
	}
	return nil
}

func runReview(cmd *cobra.Command, args []string) error {
	p := pipeline.New(pipelineOptions(), nil, logger)
	if reviewSemantic != "" {
		raw, err := os.ReadFile(reviewSemantic)
		if err != nil {
			return fmt.Errorf("failed to read hints: %w", err)
		}
		hints, err := layout.ParseSemanticHints(raw)
		if err != nil {
			return err
		}
		return editDocument(args[0], func(doc *blueprint.Document) error {
			sum, err := p.Reapply(doc, hints)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pending: %d  Texts: %d  Unknown: %v\n", sum.Pending, sum.Texts, sum.Unknown)
			return nil
		})
	}
	r := pipeline.Review{
		NodeID:   reviewNode,
		Action:   reviewAction,
		Flow:     node.FlowKind(reviewFlow),
		Reviewer: reviewer,
		Note:     reviewNote,
	}
	return editDocument(args[0], func(doc *blueprint.Document) error {
		return p.ApplyReview(doc, r)
	})
}

func runGate(cmd *cobra.Command, args []string) error {
	doc, source, err := loadWithSource(args[0])
	if err != nil {
		return err
	}
	rep := pipeline.New(pipelineOptions(), nil, logger).Gate(doc, source)
	if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
		return err
	}
	if !rep.Decision.OK {
		return fmt.Errorf("export denied: %s", strings.Join(rep.Decision.Strings(), ", "))
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	f, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}
	doc, source, err := loadWithSource(args[0])
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := pipeline.New(pipelineOptions(), nil, logger).Export(&buf, f, doc, source); err != nil {
		return err
	}
	if exportPath == "" {
		_, err = cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(exportPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	logger.Info("Exported", zap.String("format", string(f)), zap.String("path", exportPath))
	return nil
}

func runOverlay(cmd *cobra.Command, args []string) error {
	doc, source, err := loadWithSource(args[0])
	if err != nil {
		return err
	}
	opts := render.DefaultOverlayOptions()
	opts.ShowTrace = showTrace
	p := pipeline.New(pipelineOptions(), nil, logger)
	img, err := p.Overlay(doc, source, opts)
	if err != nil {
		return err
	}
	return writePNG(overlayPath, img)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	p, cleanup, err := newPipeline()
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := store.Open(ctx, cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(pipeline.NewService(p, st, logger), cfg.Server.MaxUploadBytes, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loadWithSource(path string) (*blueprint.Document, []byte, error) {
	doc, err := blueprint.Load(path)
	if err != nil {
		return nil, nil, err
	}
	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read source: %w", err)
	}
	return doc, source, nil
}

func editDocument(path string, fn func(*blueprint.Document) error) error {
	doc, err := blueprint.Load(path)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return doc.Save(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
