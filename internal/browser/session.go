// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/capture"
	"github.com/xkilldash9x/trident-cli/internal/config"
)

// Session is one isolated browser tab with traffic capture attached. It
// implements the browser-control contract the executor and the UI
// verification leg drive.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	traffic  *capture.TrafficLog
	recorder *capture.Recorder
	// proxyLog is the manager's shared proxy log, nil when the capture
	// proxy is disabled.
	proxyLog *capture.TrafficLog

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.BrowserSession = (*Session)(nil)

// newSession creates the tab context. initialize must be called next.
func newSession(allocatorCtx context.Context, cfg *config.Config, logger *zap.Logger) *Session {
	id := uuid.New().String()

	sessionCtx, cancel := chromedp.NewContext(allocatorCtx)

	return &Session{
		id:     id,
		ctx:    sessionCtx,
		cancel: cancel,
		logger: logger.With(zap.String("session_id", id[:8])),
		cfg:    cfg,
	}
}

// initialize materializes the tab, starts the traffic recorder, and applies
// session-wide network settings.
func (s *Session) initialize(ctx context.Context) error {
	initCtx, cancel := s.opContext(ctx, s.cfg.Browser.NavigationTimeout)
	defer cancel()

	// Force target creation so CDP is connected before anything listens.
	if err := chromedp.Run(initCtx); err != nil {
		return fmt.Errorf("failed to connect browser target: %w", err)
	}

	s.traffic = capture.NewTrafficLog(s.cfg.Capture.MaxBodyBytes)
	s.recorder = capture.NewRecorder(s.ctx, s.traffic, s.cfg.Capture.ResponseBodies, s.logger)
	if err := s.recorder.Start(initCtx); err != nil {
		return fmt.Errorf("failed to start traffic recorder: %w", err)
	}

	var tasks chromedp.Tasks

	if s.cfg.Browser.DisableCache {
		tasks = append(tasks, network.SetCacheDisabled(true))
	}

	if len(s.cfg.Capture.Headers) > 0 {
		headers := make(network.Headers, len(s.cfg.Capture.Headers))
		for k, v := range s.cfg.Capture.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}

	if w, h := s.cfg.Browser.ViewportWidth, s.cfg.Browser.ViewportHeight; w > 0 && h > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(w), int64(h)))
	}

	if len(tasks) > 0 {
		if err := chromedp.Run(initCtx, tasks); err != nil {
			return fmt.Errorf("failed to apply session settings: %w", err)
		}
	}

	s.logger.Debug("Session initialized.")
	return nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Traffic exposes everything captured on this session so far. When the
// capture proxy is running, its exchanges are merged in; the proxy log is
// shared across sessions, so its entries are not per-tab.
func (s *Session) Traffic() schemas.TrafficReader {
	if s.proxyLog != nil {
		return capture.MergeReaders(s.traffic, s.proxyLog)
	}
	return s.traffic
}

// Close stops capture and tears the tab down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.recorder != nil {
		s.recorder.Stop(stopCtx)
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// -- Navigation and Interaction --

// Navigate loads the URL and blocks until the network goes idle or the
// timeout elapses. A page that loads but never goes quiet is not an error;
// a page that fails to load is.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.Browser.NavigationTimeout
	}
	navCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	s.logger.Info("Navigating.", zap.String("url", url))

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if navCtx.Err() != nil {
			return fmt.Errorf("%w: navigation to %s exceeded %s", schemas.ErrStepTimeout, url, timeout)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	if quiet := s.cfg.Browser.QuietPeriod; quiet > 0 {
		if err := s.recorder.WaitNetworkIdle(navCtx, quiet); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("Network did not go idle before the navigation deadline.", zap.String("url", url), zap.Error(err))
		}
	}
	return nil
}

// Click presses the first element matching the locator.
func (s *Session) Click(ctx context.Context, locator string, timeout time.Duration) error {
	opCtx, cancel := s.opContext(ctx, s.stepTimeout(timeout))
	defer cancel()

	if err := chromedp.Run(opCtx, chromedp.Click(locator)); err != nil {
		return s.classifyLocatorError(ctx, opCtx, "click", locator, s.stepTimeout(timeout), err)
	}
	return nil
}

// Fill replaces the value of the input matching the locator, typing through
// real key events so the page sees input the way a user produces it.
func (s *Session) Fill(ctx context.Context, locator, value string, timeout time.Duration) error {
	opCtx, cancel := s.opContext(ctx, s.stepTimeout(timeout))
	defer cancel()

	if err := chromedp.Run(opCtx,
		chromedp.WaitReady(locator),
		chromedp.Clear(locator),
		chromedp.SendKeys(locator, value),
	); err != nil {
		return s.classifyLocatorError(ctx, opCtx, "fill", locator, s.stepTimeout(timeout), err)
	}
	return nil
}

// SelectOption chooses the option with the given value in the select element
// matching the locator.
func (s *Session) SelectOption(ctx context.Context, locator, value string, timeout time.Duration) error {
	opCtx, cancel := s.opContext(ctx, s.stepTimeout(timeout))
	defer cancel()

	var outcome string
	err := chromedp.Run(opCtx,
		chromedp.WaitReady(locator),
		chromedp.Evaluate(selectOptionScript(locator, value), &outcome),
	)
	if err != nil {
		return s.classifyLocatorError(ctx, opCtx, "select", locator, s.stepTimeout(timeout), err)
	}

	switch outcome {
	case "ok":
		return nil
	case "noelement":
		return fmt.Errorf("%w: %q matched no select element", schemas.ErrElementNotFound, locator)
	case "nooption":
		return fmt.Errorf("select %q has no option with value %q", locator, value)
	default:
		return fmt.Errorf("unexpected select outcome %q for %q", outcome, locator)
	}
}

// WaitVisible blocks until the locator matches a visible element.
func (s *Session) WaitVisible(ctx context.Context, locator string, timeout time.Duration) error {
	opCtx, cancel := s.opContext(ctx, s.stepTimeout(timeout))
	defer cancel()

	if err := chromedp.Run(opCtx, chromedp.WaitVisible(locator)); err != nil {
		return s.classifyLocatorError(ctx, opCtx, "wait_visible", locator, s.stepTimeout(timeout), err)
	}
	return nil
}

// Text returns the trimmed text content of the locator's first match, or of
// the whole page when locator is empty.
func (s *Session) Text(ctx context.Context, locator string) (string, error) {
	timeout := s.cfg.Browser.DefaultStepTimeout
	opCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	var out string
	var err error
	if locator == "" {
		err = chromedp.Run(opCtx, chromedp.Text("body", &out, chromedp.ByQuery))
		locator = "body"
	} else {
		err = chromedp.Run(opCtx, chromedp.Text(locator, &out))
	}
	if err != nil {
		return "", s.classifyLocatorError(ctx, opCtx, "text", locator, timeout, err)
	}
	return strings.TrimSpace(out), nil
}

// URL returns the session's current location.
func (s *Session) URL(ctx context.Context) (string, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.Browser.DefaultStepTimeout)
	defer cancel()

	var out string
	if err := chromedp.Run(opCtx, chromedp.Location(&out)); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("failed to read current location: %w", err)
	}
	return out, nil
}

// Snapshot observes the page's compact structure for the compiler and the
// healer.
func (s *Session) Snapshot(ctx context.Context) (*schemas.PageSnapshot, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.Browser.DefaultStepTimeout)
	defer cancel()

	var url, title, html string
	if err := chromedp.Run(opCtx,
		chromedp.Location(&url),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to capture page state: %w", err)
	}

	return parseSnapshot(url, title, html)
}

// -- Error classification --

// stepTimeout applies the configured default when the caller passes none.
func (s *Session) stepTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return s.cfg.Browser.DefaultStepTimeout
}

// classifyLocatorError turns a failed interaction into the engine's error
// taxonomy. A deadline with the element absent is ErrElementNotFound; with
// the element present it is ErrStepTimeout. Anything else passes through.
func (s *Session) classifyLocatorError(parent, opCtx context.Context, op, locator string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		// The caller aborted; do not reinterpret it as a step failure.
		return parent.Err()
	}

	if opCtx.Err() == nil {
		return fmt.Errorf("%s on %q failed: %w", op, locator, err)
	}

	// The step ran out of time. Probe whether the locator matches anything
	// at all to distinguish a slow page from a broken selector.
	exists, probeErr := s.elementExists(locator)
	if probeErr == nil && !exists {
		return fmt.Errorf("%w: %s target %q matched nothing within %s", schemas.ErrElementNotFound, op, locator, timeout)
	}
	return fmt.Errorf("%w: %s on %q exceeded %s", schemas.ErrStepTimeout, op, locator, timeout)
}

// elementExists checks for any match without waiting.
func (s *Session) elementExists(locator string) (bool, error) {
	probeCtx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	var exists bool
	err := chromedp.Run(probeCtx, chromedp.Evaluate(existsScript(locator), &exists))
	return exists, err
}

// -- Context plumbing --

// opContext derives a context bounded by the session lifetime, the caller's
// context, and the operation timeout.
func (s *Session) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, cancelCombined := combineContext(s.ctx, ctx)
	if timeout <= 0 {
		return combined, cancelCombined
	}
	timed, cancelTimed := context.WithTimeout(combined, timeout)
	return timed, func() {
		cancelTimed()
		cancelCombined()
	}
}

// combineContext derives from primary (keeping its values, which carry the
// chromedp target) and cancels when either context is done.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
