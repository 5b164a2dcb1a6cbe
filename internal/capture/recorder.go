// internal/capture/recorder.go
package capture

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// exchangeState keeps tabs on the lifecycle of a single network request until
// it can be finalized into the traffic log.
type exchangeState struct {
	Request       *network.Request
	Response      *network.Response
	StartTS       *cdp.TimeSinceEpoch
	ResponseReady chan struct{} // Signals when response headers are received
	Finalized     bool
}

// Recorder listens to CDP network events on one browser tab and feeds
// completed exchanges into a TrafficLog. It is the in-browser capture path;
// traffic that never touches the tab goes through the capture proxy instead.
type Recorder struct {
	logger        *zap.Logger
	log           *TrafficLog
	captureBodies bool

	// The context for the browser tab this recorder is attached to.
	sessionCtx context.Context
	// A separate context for the listener so it can be stopped cleanly.
	listenerCtx    context.Context
	cancelListener context.CancelFunc

	// -- State and synchronization --
	pending  map[network.RequestID]*exchangeState
	inflight map[network.RequestID]bool // Specifically for WaitNetworkIdle tracking
	lock     sync.RWMutex

	// Tracks active body fetching goroutines so Stop doesn't cut them off.
	bodyFetchWG sync.WaitGroup

	isStarted bool
}

// NewRecorder creates a recorder bound to a tab context, writing into log.
func NewRecorder(sessionCtx context.Context, log *TrafficLog, captureBodies bool, logger *zap.Logger) *Recorder {
	return &Recorder{
		sessionCtx:    sessionCtx,
		log:           log,
		captureBodies: captureBodies,
		logger:        logger.Named("recorder"),
		pending:       make(map[network.RequestID]*exchangeState),
		inflight:      make(map[network.RequestID]bool),
	}
}

// Start enables the Network domain and begins listening for events.
func (r *Recorder) Start(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.isStarted {
		return nil
	}

	// Derived from the session: if the tab dies, the listener dies.
	r.listenerCtx, r.cancelListener = context.WithCancel(r.sessionCtx)

	chromedp.ListenTarget(r.listenerCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			r.handleRequestWillBeSent(e)
		case *network.EventResponseReceived:
			r.handleResponseReceived(e)
		case *network.EventLoadingFinished:
			r.handleLoadingFinished(e)
		case *network.EventLoadingFailed:
			r.handleLoadingFailed(e)
		}
	})

	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		r.cancelListener()
		return err
	}

	r.isStarted = true
	r.logger.Debug("Traffic recorder started and listening for events.")
	return nil
}

// Stop halts event collection and waits for in-flight body fetches to land in
// the log. The log remains readable afterwards.
func (r *Recorder) Stop(ctx context.Context) {
	r.lock.Lock()
	if !r.isStarted {
		r.lock.Unlock()
		return
	}
	if r.cancelListener != nil {
		r.cancelListener()
		r.cancelListener = nil
	}
	r.isStarted = false
	r.lock.Unlock()

	r.logger.Debug("Traffic recorder stopped. Waiting for pending body fetches to complete.")

	done := make(chan struct{})
	go func() {
		r.bodyFetchWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("Timed out waiting for response bodies to be fetched.", zap.Error(ctx.Err()))
	}
}

// WaitNetworkIdle polls until there have been no in-flight requests for the
// quiet period. Used by Navigate to decide when a page has settled.
func (r *Recorder) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	ticker := time.NewTicker(quietPeriod / 2) // Check more frequently than the quiet period.
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("WaitNetworkIdle aborted due to context cancellation.", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
			r.lock.RLock()
			inflightCount := len(r.inflight)
			r.lock.RUnlock()

			if inflightCount > 0 {
				lastActivity = time.Now()
				r.logger.Debug("Waiting for network idle...", zap.Int("inflight_requests", inflightCount))
			} else if time.Since(lastActivity) >= quietPeriod {
				return nil
			}
		}
	}
}

// -- Event Handlers --

func (r *Recorder) handleRequestWillBeSent(e *network.EventRequestWillBeSent) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.inflight[e.RequestID] = true

	// A redirect means the previous request under this ID is complete; record
	// it with the redirect response before tracking the next leg.
	if e.RedirectResponse != nil {
		if prev, ok := r.pending[e.RequestID]; ok && !prev.Finalized {
			prev.Response = e.RedirectResponse
			r.finalizeLocked(e.RequestID, prev, nil, false, "")
		}
	}

	r.pending[e.RequestID] = &exchangeState{
		Request:       e.Request,
		StartTS:       e.WallTime,
		ResponseReady: make(chan struct{}),
	}
}

func (r *Recorder) handleResponseReceived(e *network.EventResponseReceived) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if state, ok := r.pending[e.RequestID]; ok {
		state.Response = e.Response
		// Signal that the headers are here, unblocking any pending body fetch.
		select {
		case <-state.ResponseReady:
		default:
			close(state.ResponseReady)
		}
	}
}

func (r *Recorder) handleLoadingFinished(e *network.EventLoadingFinished) {
	r.lock.Lock()

	delete(r.inflight, e.RequestID)

	state, ok := r.pending[e.RequestID]
	if !ok || state.Finalized {
		r.lock.Unlock()
		return
	}

	if r.captureBodies && r.shouldCaptureBody(state.Response) {
		r.bodyFetchWG.Add(1)
		// Unlock before the goroutine to avoid lock ordering trouble.
		r.lock.Unlock()
		go r.fetchBodyAndFinalize(e.RequestID)
		return
	}

	r.finalizeLocked(e.RequestID, state, nil, false, "")
	r.lock.Unlock()
}

func (r *Recorder) handleLoadingFailed(e *network.EventLoadingFailed) {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.inflight, e.RequestID)

	if state, ok := r.pending[e.RequestID]; ok && !state.Finalized {
		// Unblock any waiting fetcher even on failure.
		select {
		case <-state.ResponseReady:
		default:
			close(state.ResponseReady)
		}
		r.finalizeLocked(e.RequestID, state, nil, true, e.ErrorText)
	}
}

// -- Body Fetching --

// A simple heuristic to decide if a response body is worth capturing.
func (r *Recorder) shouldCaptureBody(response *network.Response) bool {
	if response == nil {
		return false
	}
	return isTextMime(response.MimeType)
}

// fetchBodyAndFinalize grabs the (CDP-decoded) response body, then records the
// exchange. Runs in its own goroutine.
func (r *Recorder) fetchBodyAndFinalize(requestID network.RequestID) {
	defer r.bodyFetchWG.Done()

	r.lock.RLock()
	state, ok := r.pending[requestID]
	r.lock.RUnlock()
	if !ok {
		return
	}

	if r.sessionCtx.Err() != nil {
		r.finalize(requestID, state, nil, false, "")
		return
	}

	// Don't let a body fetch hang forever.
	ctx, cancel := context.WithTimeout(r.sessionCtx, 15*time.Second)
	defer cancel()

	// Wait until the response headers have arrived.
	select {
	case <-state.ResponseReady:
	case <-ctx.Done():
		r.finalize(requestID, state, nil, false, "")
		return
	}

	var body []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		body, err = network.GetResponseBody(requestID).Do(c)
		return err
	}))
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Debug("Failed to fetch response body.", zap.String("request_id", string(requestID)), zap.Error(err))
		}
		body = nil
	}

	r.finalize(requestID, state, body, false, "")
}

// -- Finalization --

func (r *Recorder) finalize(requestID network.RequestID, state *exchangeState, body []byte, failed bool, failureText string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.finalizeLocked(requestID, state, body, failed, failureText)
}

// finalizeLocked converts a completed state into a schemas.Exchange and
// appends it to the log. Callers must hold r.lock.
func (r *Recorder) finalizeLocked(requestID network.RequestID, state *exchangeState, body []byte, failed bool, failureText string) {
	if state.Finalized {
		return
	}
	state.Finalized = true
	delete(r.pending, requestID)

	if state.Request == nil {
		return
	}

	ex := schemas.Exchange{
		RequestID:   string(requestID),
		Method:      state.Request.Method,
		URL:         state.Request.URL,
		ReqHeaders:  convertHeaders(state.Request.Headers),
		ReqBody:     postData(state.Request),
		RespBody:    body,
		Failed:      failed,
		FailureText: failureText,
	}
	if state.StartTS != nil {
		ex.StartedAt = state.StartTS.Time()
	}
	if state.Response != nil {
		ex.Status = int(state.Response.Status)
		ex.MimeType = state.Response.MimeType
		ex.RespHeaders = convertHeaders(state.Response.Headers)
	}

	r.log.Append(ex)
}

// -- Conversion Helpers --

// convertHeaders flattens CDP's loosely-typed header map into http.Header,
// splitting multi-value headers that CDP joins with newlines.
func convertHeaders(headers network.Headers) http.Header {
	out := make(http.Header, len(headers))
	for name, value := range headers {
		if valStr, ok := value.(string); ok {
			for _, v := range strings.Split(valStr, "\n") {
				out.Add(name, v)
			}
		}
	}
	return out
}

// postData joins the request's post data entries. Newer CDP versions split
// large payloads across entries.
func postData(req *network.Request) []byte {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return nil
	}
	var b strings.Builder
	for _, entry := range req.PostDataEntries {
		b.WriteString(entry.Bytes)
	}
	return []byte(b.String())
}

func isTextMime(mimeType string) bool {
	mime := strings.ToLower(mimeType)
	return strings.HasPrefix(mime, "text/") ||
		strings.Contains(mime, "json") ||
		strings.Contains(mime, "javascript") ||
		strings.Contains(mime, "xml") ||
		strings.Contains(mime, "x-www-form-urlencoded")
}
