// internal/browser/state_test.go
package browser

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSessionFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions", "checkout", "state.json")

	state := &sessionState{
		SavedAt: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		URL:     "https://app.example.test/account",
		Cookies: []sessionCookie{
			{
				Name:     "sid",
				Value:    "abc123",
				Domain:   "app.example.test",
				Path:     "/",
				HTTPOnly: true,
				Secure:   true,
				SameSite: "Lax",
			},
		},
		LocalStorage:   map[string]string{"token": "jwt-value"},
		SessionStorage: map[string]string{"csrf": "nonce"},
	}

	require.NoError(t, writeSessionFile(path, state))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var got sessionState
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, *state, got)
}

func TestWriteSessionFile_BadDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	err := writeSessionFile(filepath.Join(blocker, "state.json"), &sessionState{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session")
}
