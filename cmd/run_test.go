package cmd

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/config"
	"github.com/xkilldash9x/trident-cli/internal/mission"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSource hands runMissions a fixed mission set.
type fakeSource struct {
	missions []*schemas.Mission
	err      error
	calls    int
}

func (f *fakeSource) Missions(context.Context) ([]*schemas.Mission, error) {
	f.calls++
	return f.missions, f.err
}

// fakeEngine records what the dispatch loop feeds it. With consume unset it
// never reads the queue, which simulates a pool that already shut down.
type fakeEngine struct {
	consume  bool
	results  []schemas.ExecutionReport
	failures int

	mu       sync.Mutex
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	received []*schemas.Mission
}

func (f *fakeEngine) Start(ctx context.Context, missions <-chan *schemas.Mission) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()

	if !f.consume {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for m := range missions {
			f.mu.Lock()
			f.received = append(f.received, m)
			f.mu.Unlock()
		}
	}()
}

func (f *fakeEngine) Stop() {
	f.wg.Wait()
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeEngine) Results() []schemas.ExecutionReport { return f.results }
func (f *fakeEngine) Failures() int                      { return f.failures }

func TestRunMissionsDispatchesAll(t *testing.T) {
	missions := []*schemas.Mission{
		{TicketID: "WEB-1"},
		{TicketID: "WEB-2"},
		{TicketID: "WEB-3"},
	}
	src := &fakeSource{missions: missions}
	eng := &fakeEngine{consume: true}

	err := runMissions(context.Background(), eng, src, 2, zaptest.NewLogger(t))

	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.True(t, eng.started)
	assert.True(t, eng.stopped)
	require.Len(t, eng.received, 3)
	for i, m := range missions {
		assert.Same(t, m, eng.received[i])
	}
}

func TestRunMissionsSourceError(t *testing.T) {
	src := &fakeSource{err: assert.AnError}
	eng := &fakeEngine{consume: true}

	err := runMissions(context.Background(), eng, src, 2, zaptest.NewLogger(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load missions")
	assert.False(t, eng.started)
}

func TestRunMissionsAbandonsDispatchOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{missions: []*schemas.Mission{{TicketID: "WEB-1"}}}
	// An unbuffered queue plus an engine that never reads forces the
	// dispatch select onto the cancellation path.
	eng := &fakeEngine{consume: false}

	err := runMissions(ctx, eng, src, 0, zaptest.NewLogger(t))

	require.NoError(t, err)
	assert.True(t, eng.started)
	assert.True(t, eng.stopped)
	assert.Empty(t, eng.received)
}

func TestSelectMissionSource(t *testing.T) {
	logger := zaptest.NewLogger(t)

	cfg := config.NewDefaultConfig()
	cfg.Run.Paths = []string{"a.json", "b.yaml"}
	assert.IsType(t, &mission.FileSource{}, selectMissionSource(cfg, logger))

	cfg = config.NewDefaultConfig()
	cfg.Run.Git = true
	assert.IsType(t, &mission.GitSource{}, selectMissionSource(cfg, logger))

	cfg = config.NewDefaultConfig()
	assert.IsType(t, &mission.DirSource{}, selectMissionSource(cfg, logger))
}

func TestJUnitPath(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Run.OutputDir = "artifacts"
	cfg.Report.JUnitFile = "junit.xml"
	assert.Equal(t, filepath.Join("artifacts", "junit.xml"), junitPath(cfg))

	abs := filepath.Join(t.TempDir(), "ci.xml")
	cfg.Report.JUnitFile = abs
	assert.Equal(t, abs, junitPath(cfg))
}

func TestFailuresError(t *testing.T) {
	assert.NoError(t, failuresError(0, 5))

	err := failuresError(2, 3)
	require.Error(t, err)
	assert.EqualError(t, err, "2 of 3 missions failed")
}

func TestNeedsAPIKey(t *testing.T) {
	assert.True(t, needsAPIKey(config.ProviderGemini))
	assert.True(t, needsAPIKey(config.ProviderGenAI))
	assert.False(t, needsAPIKey(config.ProviderMock))
	assert.False(t, needsAPIKey(config.LLMProvider("MOCK")))
}

func TestEmitJUnit(t *testing.T) {
	logger := zaptest.NewLogger(t)
	results := []schemas.ExecutionReport{{MissionID: "WEB-1", OverallSuccess: true}}

	t.Run("disabled", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Run.OutputDir = t.TempDir()
		cfg.Run.JUnit = false

		require.NoError(t, emitJUnit(cfg, results, logger))
		_, err := os.Stat(junitPath(cfg))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("no results", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Run.OutputDir = t.TempDir()
		cfg.Run.JUnit = true

		require.NoError(t, emitJUnit(cfg, nil, logger))
		_, err := os.Stat(junitPath(cfg))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("writes artifact", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Run.OutputDir = t.TempDir()
		cfg.Run.JUnit = true

		require.NoError(t, emitJUnit(cfg, results, logger))
		info, err := os.Stat(junitPath(cfg))
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	})
}
