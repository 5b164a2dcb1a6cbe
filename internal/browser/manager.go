// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/internal/capture"
	"github.com/xkilldash9x/trident-cli/internal/config"
)

const launchProbeTimeout = 30 * time.Second

// Manager owns the headless browser process. All mission sessions are tabs
// derived from its allocator context.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// Sidecar capture proxy, present only when capture.proxy is enabled.
	// Its log is shared by every session routed through it.
	proxy    *capture.Proxy
	proxyLog *capture.TrafficLog

	// Tracks open sessions so Shutdown can drain them.
	wg sync.WaitGroup
}

// NewManager launches the browser process and verifies it responds. When the
// capture proxy is enabled it is started first, so the browser can be pointed
// at the address the listener actually bound (the configured address may be
// port 0).
func NewManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}

	if cfg.Capture.Proxy.Enabled {
		m.proxyLog = capture.NewTrafficLog(cfg.Capture.MaxBodyBytes)
		m.proxy = capture.NewProxy(cfg.Capture.Proxy, m.proxyLog, m.logger)
		if err := m.proxy.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start capture proxy: %w", err)
		}
	}

	if err := m.launchBrowser(ctx); err != nil {
		if m.proxy != nil {
			_ = m.proxy.Stop(ctx)
		}
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launchBrowser prepares allocator options and starts the browser process.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator.")

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	// Verify the browser starts and responds before accepting sessions.
	probeCtx, cancelProbe := context.WithTimeout(allocCtx, launchProbeTimeout)
	probeCtx, cancelProbeTab := chromedp.NewContext(probeCtx)
	defer cancelProbeTab()
	defer cancelProbe()

	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched and responsive.")
	return nil
}

// buildAllocatorOptions assembles the browser launch flags from config.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption

	// Start from the defaults, dropping the flag that advertises automation.
	// ExecAllocatorOption is an opaque func type, so the default cannot be
	// filtered out directly; overriding the flag with false makes chromedp
	// omit it from the launch command line.
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("enable-automation", false))

	bcfg := m.cfg.Browser
	opts = append(opts,
		chromedp.Flag("headless", bcfg.Headless),
		chromedp.Flag("ignore-certificate-errors", bcfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", bcfg.Headless),
	)

	if bcfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(bcfg.UserAgent))
	}
	if bcfg.ViewportWidth > 0 && bcfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(bcfg.ViewportWidth, bcfg.ViewportHeight))
	}

	// Route browser traffic through the capture proxy when it is running.
	if m.proxy != nil {
		opts = append(opts, chromedp.ProxyServer(m.proxy.Addr()))
	}

	// Custom arguments from config, either --flag or --flag=value.
	for _, arg := range bcfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for containerized runs.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// NewSession opens an isolated tab wired with traffic capture.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	if m.allocatorCtx == nil {
		return nil, fmt.Errorf("browser manager is not initialized")
	}

	session := newSession(m.allocatorCtx, m.cfg, m.logger)
	session.proxyLog = m.proxyLog

	m.wg.Add(1)
	session.onClose = func() {
		m.wg.Done()
		m.logger.Debug("Session released.", zap.String("session_id", session.ID()))
	}

	if err := session.initialize(ctx); err != nil {
		// Close releases the WaitGroup slot via onClose.
		_ = session.Close()
		return nil, fmt.Errorf("failed to initialize browser session: %w", err)
	}

	m.logger.Info("New browser session created.", zap.String("session_id", session.ID()))
	return session, nil
}

// Shutdown drains active sessions and terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated.")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}

	if m.proxy != nil {
		if err := m.proxy.Stop(ctx); err != nil {
			m.logger.Warn("Capture proxy did not stop cleanly.", zap.Error(err))
		}
	}
	return nil
}
