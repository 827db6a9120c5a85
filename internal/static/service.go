package static

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bengawalk/kia-engine/internal/metrics"
	"github.com/bengawalk/kia-engine/internal/state"
)

// Service rebuilds the schedule bundle once a day (and on input changes)
// and refreshes the shared route maps the live pipeline reads.
type Service struct {
	inDir  string
	outDir string
	st     *state.State
	log    zerolog.Logger

	interval time.Duration

	mu sync.Mutex // serializes builds (daily loop vs watcher trigger)
}

func NewService(inDir, outDir string, st *state.State, log zerolog.Logger) *Service {
	return &Service{
		inDir:    inDir,
		outDir:   outDir,
		st:       st,
		log:      log.With().Str("component", "bundle").Logger(),
		interval: 24 * time.Hour,
	}
}

// ZipPath is where the current bundle lives.
func (s *Service) ZipPath() string { return filepath.Join(s.outDir, "gtfs.zip") }

// VersionPath is where the current bundle version string lives.
func (s *Service) VersionPath() string { return filepath.Join(s.outDir, "feed_info.txt") }

// Run rebuilds daily until the context ends. The initial build is expected
// to have been run synchronously via RunOnce before the live pipeline
// starts.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(); err != nil {
				s.log.Error().Err(err).Msg("bundle rebuild failed")
			}
		}
	}
}

// RunOnce converts the timings TSV, reloads the inputs, atomically replaces
// the shared route maps, and writes a new bundle if its content changed.
func (s *Service) RunOnce() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	tsvPath := filepath.Join(s.inDir, "helpers", "construct_timings", "timings.tsv")
	if err := ConvertTimingsTSV(tsvPath, filepath.Join(s.inDir, "start_times.json"), s.log); err != nil {
		s.log.Warn().Err(err).Msg("timings conversion failed, using existing start_times.json")
	}

	in, err := LoadInputs(s.inDir)
	if err != nil {
		metrics.BundleBuildsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load inputs: %w", err)
	}

	// The live pipeline must see the same identities the bundle is built
	// from, updated as a unit.
	s.st.Routes.ReplaceAll(in.RoutesChildren, in.RoutesParent, in.StartTimes)

	dataset, err := Build(in, time.Now())
	if err != nil {
		metrics.BundleBuildsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("build dataset: %w", err)
	}
	files, err := dataset.Render()
	if err != nil {
		metrics.BundleBuildsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("render dataset: %w", err)
	}

	existing, err := ReadZip(s.ZipPath())
	if err != nil {
		s.log.Warn().Err(err).Msg("existing bundle unreadable, rebuilding")
		existing = map[string][]byte{}
	}

	if !Changed(files, existing) {
		s.log.Info().Dur("elapsed_ms", time.Since(start)).Msg("bundle unchanged")
		metrics.BundleBuildsTotal.WithLabelValues("unchanged").Inc()
		return nil
	}

	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		metrics.BundleBuildsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("create out dir: %w", err)
	}
	if err := WriteZip(files, s.ZipPath()); err != nil {
		metrics.BundleBuildsTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := os.WriteFile(s.VersionPath(), []byte(dataset.Version()), 0o644); err != nil {
		metrics.BundleBuildsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("write version: %w", err)
	}

	s.log.Info().
		Str("version", dataset.Version()).
		Int("routes", len(dataset.Routes)).
		Int("trips", len(dataset.Trips)).
		Int("stop_times", len(dataset.StopTimes)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("bundle written")
	metrics.BundleBuildsTotal.WithLabelValues("written").Inc()
	return nil
}
