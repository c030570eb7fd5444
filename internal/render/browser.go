package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/export"
	imgsrc "pixel-blueprint/internal/image"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// BrowserConfig configures the headless browser rasterizer.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local headless instance.
	RemoteURL string `yaml:"remote_url"`

	// Bin overrides the browser binary the launcher uses.
	Bin string `yaml:"bin"`

	// SettleTime is how long to wait for layout to go quiet before the
	// screenshot.
	SettleTime time.Duration `yaml:"settle_time"`
}

// Browser renders the HTML export in headless Chrome and screenshots it at
// 1:1 device scale. It is the rasterizer to trust for end-to-end checks;
// the software rasterizer only approximates it.
type Browser struct {
	cfg      BrowserConfig
	exporter *export.Exporter
	logger   *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowser creates a browser rasterizer. Chrome starts lazily on first use.
func NewBrowser(cfg BrowserConfig, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SettleTime <= 0 {
		cfg.SettleTime = 200 * time.Millisecond
	}
	logger = logger.Named("browser")
	return &Browser{cfg: cfg, exporter: export.New(logger), logger: logger}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.logger.Info("Launched local browser", zap.String("url", wsURL))
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	b.browser = br
	return br, nil
}

func (b *Browser) Rasterize(ctx context.Context, bp export.Blueprint) (*image.RGBA, error) {
	size := bp.Size()
	if size.Width <= 0 || size.Height <= 0 {
		return nil, errs.New(errs.CodeRasterizeFailed, "cannot rasterize empty size %s", size)
	}

	var doc bytes.Buffer
	if err := b.exporter.Render(&doc, export.FormatHTML, bp); err != nil {
		return nil, err
	}

	br, err := b.connect()
	if err != nil {
		return nil, errs.Wrap(errs.CodeRasterizeFailed, err, "browser unavailable")
	}

	page, err := br.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, errs.Wrap(errs.CodeRasterizeFailed, err, "failed to open page")
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			b.logger.Debug("Page close failed", zap.Error(cerr))
		}
	}()
	page = page.Context(ctx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             size.Width,
		Height:            size.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, errs.Wrap(errs.CodeRasterizeFailed, err, "failed to set viewport")
	}
	if err := page.SetDocumentContent(doc.String()); err != nil {
		return nil, errs.Wrap(errs.CodeRasterizeFailed, err, "failed to load document")
	}
	if err := page.WaitStable(b.cfg.SettleTime); err != nil {
		return nil, errs.Wrap(errs.CodeRasterizeFailed, err, "page did not settle")
	}

	shot, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      0,
			Y:      0,
			Width:  float64(size.Width),
			Height: float64(size.Height),
			Scale:  1,
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.CodeRasterizeFailed, err, "screenshot failed")
	}

	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, errs.Wrap(errs.CodeDecodeFailed, err, "failed to decode screenshot")
	}
	b.logger.Debug("Browser rasterization complete", zap.Stringer("size", size), zap.Int("bytes", len(shot)))
	return imgsrc.ToRGBA(img), nil
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch = nil
	}
	return err
}
