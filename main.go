// Package main provides the blueprint command-line tool.
package main

import (
	"fmt"
	"os"
	"strings"

	"pixel-blueprint/internal/config"
	"pixel-blueprint/internal/ocr"
	"pixel-blueprint/internal/pipeline"
	"pixel-blueprint/internal/render"
	"pixel-blueprint/internal/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	envFile    string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "blueprint",
	Short: "Reconstruct pixel-exact UI blueprints from screenshots",
	Long: `blueprint turns a UI screenshot into a tree of boxes with layout hints,
verifies a rendering of that tree against the screenshot pixel for pixel,
and exports HTML, SVG or JSON only while the blueprint is locked, free of
drift and verified.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		path := configPath
		if path == "" {
			if _, err := os.Stat(config.DefaultFile); err == nil {
				path = config.DefaultFile
			}
		}
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
		if logger, err = buildLogger(cfg.Logging, verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(overlayCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(strings.ToLower(lc.Level))
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// newPipeline wires the configured rasterizer and, when enabled, OCR. The
// returned cleanup releases both.
func newPipeline() (*pipeline.Pipeline, func(), error) {
	opts := pipelineOptions()

	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("Cleanup failed", zap.Error(err))
			}
		}
	}

	var rast render.Rasterizer
	if cfg.Rasterizer == config.RasterizerBrowser {
		b := render.NewBrowser(cfg.Browser, logger)
		closers = append(closers, b.Close)
		rast = b
	}
	p := pipeline.New(opts, rast, logger)

	if cfg.OCR.Enabled {
		engine, err := ocr.NewEngine(ocrOptions(cfg.OCR), logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, engine.Close)
		p.WithAnnotator(engine)
	}
	return p, cleanup, nil
}

func pipelineOptions() pipeline.Options {
	return pipeline.Options{
		Limits:  cfg.ImageLimits(),
		Extract: cfg.ExtractParams(),
		Tree:    cfg.TreeOptions(),
		Verify:  cfg.Verify,
	}
}

func ocrOptions(c config.OCRConfig) ocr.Options {
	o := ocr.DefaultOptions()
	o.Language = c.Language
	if c.MinHeight > 0 {
		o.MinHeight = c.MinHeight
	}
	if c.MaxHeight > 0 {
		o.MaxHeight = c.MaxHeight
	}
	o.MinConfidence = c.MinConfidence
	return o
}
