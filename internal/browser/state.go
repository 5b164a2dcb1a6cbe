// internal/browser/state.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// sessionState is the portable authentication state a save_session step
// persists: cookies plus both web storage areas, enough to resume later as
// the same user.
type sessionState struct {
	SavedAt        time.Time         `json:"saved_at"`
	URL            string            `json:"url"`
	Cookies        []sessionCookie   `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage"`
	SessionStorage map[string]string `json:"session_storage"`
}

type sessionCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"same_site,omitempty"`
}

// storageDumpScript serializes both web storage areas in one round trip.
const storageDumpScript = `(() => {
	const dump = (storage) => {
		const out = {};
		for (let i = 0; i < storage.length; i++) {
			const key = storage.key(i);
			out[key] = storage.getItem(key);
		}
		return out;
	};
	return { local: dump(window.localStorage), session: dump(window.sessionStorage) };
})()`

// SaveSession persists the tab's authentication state to path. Relative
// paths land under the configured session directory.
func (s *Session) SaveSession(ctx context.Context, path string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.Browser.DefaultStepTimeout)
	defer cancel()

	state, err := s.collectState(opCtx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to collect session state: %w", err)
	}

	target := path
	if !filepath.IsAbs(target) && s.cfg.Browser.SessionDir != "" {
		target = filepath.Join(s.cfg.Browser.SessionDir, target)
	}

	if err := writeSessionFile(target, state); err != nil {
		return err
	}

	s.logger.Info("Session state saved.",
		zap.String("path", target),
		zap.Int("cookies", len(state.Cookies)),
	)
	return nil
}

func (s *Session) collectState(ctx context.Context) (*sessionState, error) {
	state := &sessionState{SavedAt: time.Now().UTC()}

	var storages struct {
		Local   map[string]string `json:"local"`
		Session map[string]string `json:"session"`
	}

	err := chromedp.Run(ctx,
		chromedp.Location(&state.URL),
		chromedp.ActionFunc(func(c context.Context) error {
			cookies, err := network.GetCookies().Do(c)
			if err != nil {
				return err
			}
			for _, ck := range cookies {
				state.Cookies = append(state.Cookies, sessionCookie{
					Name:     ck.Name,
					Value:    ck.Value,
					Domain:   ck.Domain,
					Path:     ck.Path,
					Expires:  ck.Expires,
					HTTPOnly: ck.HTTPOnly,
					Secure:   ck.Secure,
					SameSite: string(ck.SameSite),
				})
			}
			return nil
		}),
		chromedp.Evaluate(storageDumpScript, &storages),
	)
	if err != nil {
		return nil, err
	}

	state.LocalStorage = storages.Local
	state.SessionStorage = storages.Session
	return state, nil
}

// writeSessionFile writes state as indented JSON, creating parent
// directories as needed. Session files hold live credentials, so they are
// not group or world readable.
func writeSessionFile(path string, state *sessionState) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create session directory %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", path, err)
	}
	return nil
}
