// Package config loads the blueprint.yaml configuration and applies
// BLUEPRINT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/extract"
	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/internal/render"
	"pixel-blueprint/internal/scan"
	"pixel-blueprint/internal/tree"
	"pixel-blueprint/internal/verify"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "blueprint.yaml"

// Rasterizer names.
const (
	RasterizerSoftware = "software"
	RasterizerBrowser  = "browser"
)

// Config is the top-level configuration.
type Config struct {
	Limits     LimitsConfig         `yaml:"limits"`
	Extract    ExtractConfig        `yaml:"extract"`
	Tree       TreeConfig           `yaml:"tree"`
	Verify     verify.Options       `yaml:"verify"`
	Rasterizer string               `yaml:"rasterizer"` // software | browser
	Browser    render.BrowserConfig `yaml:"browser"`
	OCR        OCRConfig            `yaml:"ocr"`
	Store      StoreConfig          `yaml:"store"`
	Server     ServerConfig         `yaml:"server"`
	Logging    LoggingConfig        `yaml:"logging"`
}

// LimitsConfig bounds image ingestion.
type LimitsConfig struct {
	MaxBytes  int64 `yaml:"max_bytes"`
	MaxPixels int   `yaml:"max_pixels"`
}

// ExtractConfig controls box extraction.
type ExtractConfig struct {
	Step           int     `yaml:"step"`
	MinCells       int     `yaml:"min_cells"`
	CanvasCoverage float64 `yaml:"canvas_coverage"`
	// FixedThreshold replaces the adaptive threshold when positive.
	FixedThreshold float64 `yaml:"fixed_threshold"`
}

// TreeConfig controls containment tree building.
type TreeConfig struct {
	Tolerance    float64 `yaml:"tolerance"`
	RowTolerance float64 `yaml:"row_tolerance"`
}

// OCRConfig controls text recognition on leaves.
type OCRConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Language      string  `yaml:"language"`
	MinHeight     int     `yaml:"min_height"`
	MaxHeight     int     `yaml:"max_height"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	limits := imgsrc.DefaultLimits()
	params := extract.DefaultParams()
	return &Config{
		Limits: LimitsConfig{MaxBytes: limits.MaxBytes, MaxPixels: limits.MaxPixels},
		Extract: ExtractConfig{
			Step:           params.Step,
			MinCells:       params.MinCells,
			CanvasCoverage: params.CanvasCoverage,
		},
		Tree:       TreeConfig{RowTolerance: tree.DefaultRowTolerance},
		Verify:     verify.DefaultOptions(),
		Rasterizer: RasterizerSoftware,
		Browser:    render.BrowserConfig{SettleTime: 200 * time.Millisecond},
		OCR: OCRConfig{
			Language:      "eng",
			MinHeight:     8,
			MaxHeight:     96,
			MinConfidence: 40,
		},
		Store: StoreConfig{Path: "blueprints.db"},
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   2 * time.Minute,
			MaxUploadBytes: limits.MaxBytes,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadEnvFile loads KEY=value pairs from a .env file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads a YAML file over the defaults, then applies environment
// overrides and validates the result. An empty path uses the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.Wrap(errs.CodeInvalidInput, err, "failed to parse config %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv applies BLUEPRINT_* overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	parse := func(key string, set func(string) error) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		if err := set(v); err != nil && firstErr == nil {
			firstErr = errs.Wrap(errs.CodeInvalidInput, err, "invalid %s", key)
		}
	}

	parse("BLUEPRINT_STEP", func(v string) (err error) {
		c.Extract.Step, err = strconv.Atoi(v)
		return err
	})
	parse("BLUEPRINT_MAX_BYTES", func(v string) (err error) {
		c.Limits.MaxBytes, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("BLUEPRINT_MAX_MISMATCH_PCT", func(v string) (err error) {
		c.Verify.MaxMismatchPct, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("BLUEPRINT_OCR", func(v string) (err error) {
		c.OCR.Enabled, err = strconv.ParseBool(v)
		return err
	})
	str("BLUEPRINT_RASTERIZER", &c.Rasterizer)
	str("BLUEPRINT_BROWSER_URL", &c.Browser.RemoteURL)
	str("BLUEPRINT_BROWSER_BIN", &c.Browser.Bin)
	str("BLUEPRINT_STORE_PATH", &c.Store.Path)
	str("BLUEPRINT_ADDR", &c.Server.Addr)
	str("BLUEPRINT_LOG_LEVEL", &c.Logging.Level)
	str("BLUEPRINT_LOG_FORMAT", &c.Logging.Format)
	return firstErr
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	if c.Limits.MaxBytes <= 0 {
		problems = append(problems, "limits.max_bytes must be positive")
	}
	if c.Limits.MaxPixels <= 0 {
		problems = append(problems, "limits.max_pixels must be positive")
	}
	if c.Extract.Step < scan.MinStep || c.Extract.Step > scan.MaxStep {
		problems = append(problems, fmt.Sprintf("extract.step must be in [%d, %d]", scan.MinStep, scan.MaxStep))
	}
	if c.Extract.CanvasCoverage < 0 || c.Extract.CanvasCoverage > 1 {
		problems = append(problems, "extract.canvas_coverage must be in [0, 1]")
	}
	if c.Tree.Tolerance < 0 || c.Tree.RowTolerance < 0 {
		problems = append(problems, "tree tolerances must not be negative")
	}
	if c.Verify.Threshold < 0 || c.Verify.Threshold > 1 {
		problems = append(problems, "verify.threshold must be in [0, 1]")
	}
	if c.Verify.MaxMismatchPct < 0 || c.Verify.MaxMismatchPct > 1 {
		problems = append(problems, "verify.max_mismatch_pct must be in [0, 1]")
	}
	if c.Verify.MinIoU < 0 || c.Verify.MinIoU > 1 {
		problems = append(problems, "verify.min_iou must be in [0, 1]")
	}
	switch c.Rasterizer {
	case RasterizerSoftware, RasterizerBrowser:
	default:
		problems = append(problems, fmt.Sprintf("rasterizer %q is not one of software, browser", c.Rasterizer))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of json, console", c.Logging.Format))
	}
	if len(problems) > 0 {
		return errs.New(errs.CodeInvalidInput, "invalid config: %s", strings.Join(problems, "; ")).
			With("problems", problems)
	}
	return nil
}

// ImageLimits returns the ingestion limits.
func (c *Config) ImageLimits() imgsrc.Limits {
	return imgsrc.Limits{MaxBytes: c.Limits.MaxBytes, MaxPixels: c.Limits.MaxPixels}
}

// ExtractParams returns the extraction parameters.
func (c *Config) ExtractParams() extract.Params {
	p := extract.DefaultParams().WithStep(c.Extract.Step)
	if c.Extract.MinCells > 0 {
		p.MinCells = c.Extract.MinCells
	}
	if c.Extract.CanvasCoverage > 0 {
		p.CanvasCoverage = c.Extract.CanvasCoverage
	}
	if c.Extract.FixedThreshold > 0 {
		p = p.WithThreshold(extract.Fixed(c.Extract.FixedThreshold))
	}
	return p
}

// TreeOptions returns the tree builder options.
func (c *Config) TreeOptions() tree.Options {
	return tree.Options{Tolerance: c.Tree.Tolerance, RowTolerance: c.Tree.RowTolerance}
}
