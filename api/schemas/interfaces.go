package schemas

import (
	"context"
	"time"
)

// -- Browser Capability --

// BrowserSession is the browser-control contract the executor and the
// verifier's UI leg drive. One session per mission run; sessions are
// never shared across concurrent runs.
//
// Interaction errors distinguish ErrStepTimeout from ErrElementNotFound
// so callers can tell a slow page from a broken locator.
type BrowserSession interface {
	// Navigate loads the URL and blocks until the network goes idle or
	// the timeout elapses.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Click presses the first element matching the locator.
	Click(ctx context.Context, locator string, timeout time.Duration) error
	// Fill replaces the value of the input matching the locator.
	Fill(ctx context.Context, locator, value string, timeout time.Duration) error
	// SelectOption chooses the option with the given value in the
	// select element matching the locator.
	SelectOption(ctx context.Context, locator, value string, timeout time.Duration) error
	// WaitVisible blocks until the locator matches a visible element.
	WaitVisible(ctx context.Context, locator string, timeout time.Duration) error
	// Text returns the trimmed text content of the locator's first
	// match, or of the whole page when locator is empty.
	Text(ctx context.Context, locator string) (string, error)
	// URL returns the session's current location.
	URL(ctx context.Context) (string, error)
	// Snapshot observes the page's compact structure for the compiler
	// and the healer.
	Snapshot(ctx context.Context) (*PageSnapshot, error)
	// SaveSession persists cookies and local storage to path for reuse
	// by later runs.
	SaveSession(ctx context.Context, path string) error
	// Traffic exposes everything captured on this session so far.
	Traffic() TrafficReader
	// Close releases the underlying browser resources.
	Close() error
}

// TrafficReader is read-only access to a session's captured exchanges.
// The API verification leg and the hidden-field step both consume this.
type TrafficReader interface {
	// Exchanges returns a stable copy of everything captured so far, in
	// capture order.
	Exchanges() []Exchange
	// Len reports how many exchanges have completed.
	Len() int
}

// -- LLM Capability --

// GenerationOptions tune a single LLM call.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
}

// GenerationRequest is one stateless, single-shot LLM call. The engine
// never depends on conversational context.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts the model provider behind one generation call. The
// engine touches it from exactly two places: the plan compiler and the
// healer.
type LLMClient interface {
	GenerateResponse(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases transport resources held by the client.
	Close() error
}

// -- Learning Store Capability --

// LearningStore holds selector corrections keyed by (node id, component
// role). Shared across concurrent mission runs; writes are
// replace-by-key, reads return the most recent correction. History is
// additive so prior locators stay inspectable.
type LearningStore interface {
	// Get returns the authoritative correction for the key, or nil when
	// none has been learned.
	Get(ctx context.Context, nodeID, componentRole string) (*SelectorCorrection, error)
	// Put records a correction, superseding any prior one for its key.
	Put(ctx context.Context, correction SelectorCorrection) error
	// History returns all corrections ever recorded for the key, oldest
	// first.
	History(ctx context.Context, nodeID, componentRole string) ([]SelectorCorrection, error)
}

// -- Database Capability --

// RowQuerier is the single read the database verification leg needs:
// fetch the most recent row of a table matching a column filter. Returns
// nil with no error when nothing matches.
type RowQuerier interface {
	QueryOne(ctx context.Context, table string, filter map[string]interface{}) (map[string]interface{}, error)
}
