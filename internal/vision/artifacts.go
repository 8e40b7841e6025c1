package vision

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ArtifactStore persists the original, labeled, and debug images of each
// labeling pass for audit and debugging. Saves happen off the hot path and
// errors are logged, never propagated: artifact persistence must not affect
// the resolved result.
type ArtifactStore struct {
	dir     string
	enabled bool
	logger  *zap.Logger
	wg      sync.WaitGroup

	// now is swappable in tests to pin the timestamp key.
	now func() time.Time
}

// NewArtifactStore creates a store rooted at dir. A disabled store is a
// valid no-op sink.
func NewArtifactStore(dir string, enabled bool, logger *zap.Logger) *ArtifactStore {
	return &ArtifactStore{
		dir:     dir,
		enabled: enabled,
		logger:  logger.Named("artifacts"),
		now:     time.Now,
	}
}

// SaveLabelPass schedules persistence of one labeling pass, keyed by a
// timestamp. Any of the three images may be nil.
func (s *ArtifactStore) SaveLabelPass(originalPNG, labeledPNG, debugPNG []byte) {
	if !s.enabled {
		return
	}
	stamp := s.now().Format("20060102-150405")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.write(stamp, "original", originalPNG)
		s.write(stamp, "labeled", labeledPNG)
		s.write(stamp, "debug", debugPNG)
	}()
}

// Flush blocks until all scheduled saves complete. Used at shutdown and in
// tests.
func (s *ArtifactStore) Flush() {
	s.wg.Wait()
}

func (s *ArtifactStore) write(stamp, kind string, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Warn("Failed to create artifact directory", zap.String("dir", s.dir), zap.Error(err))
		return
	}
	path := filepath.Join(s.dir, "img_"+stamp+"_"+kind+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn("Failed to persist artifact image", zap.String("path", path), zap.Error(err))
	}
}
