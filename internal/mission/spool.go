package mission

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// Follow tails the spool file and emits one mission per appended line.
// Each line names a mission file, relative paths resolving against the
// spool file's directory; blank lines and #-comments are skipped. Only
// lines appended after the follower starts are seen. The channel closes
// when ctx is cancelled or the tailer stops.
//
// Unloadable entries are logged and skipped: in watch mode one broken
// mission must not take the follower down.
func Follow(ctx context.Context, path string, logger *zap.Logger) (<-chan *schemas.Mission, error) {
	log := logger.Named("spool")

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to follow spool file %s: %w", path, err)
	}
	log.Info("following mission spool", zap.String("path", path))

	out := make(chan *schemas.Mission)
	go followLoop(ctx, t, path, out, log)
	return out, nil
}

func followLoop(ctx context.Context, t *tail.Tail, spoolPath string, out chan<- *schemas.Mission, log *zap.Logger) {
	defer func() {
		t.Stop()
		t.Cleanup()
		close(out)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping spool follower")
			return

		case line, ok := <-t.Lines:
			if !ok {
				log.Info("spool tailer closed")
				return
			}
			if line.Err != nil {
				log.Warn("error reading spool file", zap.Error(line.Err))
				continue
			}

			entry := strings.TrimSpace(line.Text)
			if entry == "" || strings.HasPrefix(entry, "#") {
				continue
			}

			m, err := Load(resolveSpoolEntry(spoolPath, entry))
			if err != nil {
				log.Warn("skipping spool entry", zap.String("entry", entry), zap.Error(err))
				continue
			}
			log.Info("mission queued from spool",
				zap.String("ticket_id", m.TicketID),
				zap.String("entry", entry),
			)

			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

func resolveSpoolEntry(spoolPath, entry string) string {
	if filepath.IsAbs(entry) {
		return entry
	}
	return filepath.Join(filepath.Dir(spoolPath), entry)
}
