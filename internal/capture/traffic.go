// internal/capture/traffic.go
package capture

import (
	"sort"
	"sync"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// TrafficLog is a thread-safe, append-only record of the HTTP exchanges
// observed during one mission run. Both recorders (the CDP listener and the
// capture proxy) feed the same log; the API verification leg reads it without
// caring which recorder saw the exchange.
type TrafficLog struct {
	mu           sync.RWMutex
	exchanges    []schemas.Exchange
	maxBodyBytes int64
}

var _ schemas.TrafficReader = (*TrafficLog)(nil)

// NewTrafficLog builds an empty log. Bodies longer than maxBodyBytes are
// truncated on append; a non-positive cap disables truncation.
func NewTrafficLog(maxBodyBytes int64) *TrafficLog {
	return &TrafficLog{
		exchanges:    make([]schemas.Exchange, 0, 64),
		maxBodyBytes: maxBodyBytes,
	}
}

// Append records a completed exchange.
func (l *TrafficLog) Append(ex schemas.Exchange) {
	if l.maxBodyBytes > 0 {
		if int64(len(ex.ReqBody)) > l.maxBodyBytes {
			ex.ReqBody = ex.ReqBody[:l.maxBodyBytes]
		}
		if int64(len(ex.RespBody)) > l.maxBodyBytes {
			ex.RespBody = ex.RespBody[:l.maxBodyBytes]
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.exchanges = append(l.exchanges, ex)
}

// Exchanges returns a copy of everything captured so far, in capture order.
func (l *TrafficLog) Exchanges() []schemas.Exchange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]schemas.Exchange, len(l.exchanges))
	copy(out, l.exchanges)
	return out
}

// Len reports how many exchanges have completed.
func (l *TrafficLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.exchanges)
}

// mergedReader presents several logs as one. A session wired behind the
// capture proxy reads its own CDP log plus the proxy's shared log through
// this.
type mergedReader struct {
	readers []schemas.TrafficReader
}

// MergeReaders combines traffic readers into a single read-only view. Nil
// readers are skipped; exchanges come back ordered by start time so
// latest-match semantics hold across recorders.
func MergeReaders(readers ...schemas.TrafficReader) schemas.TrafficReader {
	kept := make([]schemas.TrafficReader, 0, len(readers))
	for _, r := range readers {
		if r != nil {
			kept = append(kept, r)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return &mergedReader{readers: kept}
}

func (m *mergedReader) Exchanges() []schemas.Exchange {
	var out []schemas.Exchange
	for _, r := range m.readers {
		out = append(out, r.Exchanges()...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (m *mergedReader) Len() int {
	n := 0
	for _, r := range m.readers {
		n += r.Len()
	}
	return n
}
