package mission

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/config"
)

// Source yields the missions a run should execute. Implementations load
// everything up front; the spool follower in watch mode is the streaming
// counterpart.
type Source interface {
	Missions(ctx context.Context) ([]*schemas.Mission, error)
}

// FileSource loads an explicit list of mission files in the order given.
type FileSource struct {
	paths []string
}

func NewFileSource(paths ...string) *FileSource {
	return &FileSource{paths: paths}
}

func (s *FileSource) Missions(_ context.Context) ([]*schemas.Mission, error) {
	if len(s.paths) == 0 {
		return nil, fmt.Errorf("no mission files given")
	}
	missions := make([]*schemas.Mission, 0, len(s.paths))
	for _, p := range s.paths {
		m, err := Load(p)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	return missions, nil
}

// DirSource loads every mission document in a directory, sorted by file
// name so runs are reproducible.
type DirSource struct {
	dir string
	log *zap.Logger
}

func NewDirSource(dir string, logger *zap.Logger) *DirSource {
	return &DirSource{dir: dir, log: logger.Named("missions")}
}

func (s *DirSource) Missions(_ context.Context) ([]*schemas.Mission, error) {
	return loadDir(s.dir, s.log)
}

// GitSource shallow-clones a missions-as-code repository into a temporary
// directory and loads every mission document at its root. The clone is
// discarded once the documents are in memory.
type GitSource struct {
	cfg config.GitSourceConfig
	log *zap.Logger
}

func NewGitSource(cfg config.GitSourceConfig, logger *zap.Logger) *GitSource {
	return &GitSource{cfg: cfg, log: logger.Named("missions")}
}

func (s *GitSource) Missions(ctx context.Context) ([]*schemas.Mission, error) {
	if s.cfg.URL == "" {
		return nil, fmt.Errorf("missions.git.url is not configured")
	}

	tmp, err := os.MkdirTemp("", "trident-missions-")
	if err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	opts := &git.CloneOptions{
		URL:   s.cfg.URL,
		Depth: s.cfg.Depth,
	}
	if s.cfg.Ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(s.cfg.Ref)
		opts.SingleBranch = true
	}
	if _, err := git.PlainCloneContext(ctx, tmp, false, opts); err != nil {
		return nil, fmt.Errorf("failed to clone missions repository %s: %w", s.cfg.URL, err)
	}
	s.log.Info("missions repository cloned",
		zap.String("url", s.cfg.URL),
		zap.String("ref", s.cfg.Ref),
	)

	return loadDir(tmp, s.log)
}

func loadDir(dir string, log *zap.Logger) ([]*schemas.Mission, error) {
	var paths []string
	for _, pattern := range []string{"*.json", "*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to scan missions directory %s: %w", dir, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no mission files found in %s", dir)
	}

	missions := make([]*schemas.Mission, 0, len(paths))
	for _, p := range paths {
		m, err := Load(p)
		if err != nil {
			return nil, err
		}
		log.Debug("mission loaded", zap.String("ticket_id", m.TicketID), zap.String("path", p))
		missions = append(missions, m)
	}
	return missions, nil
}
