package memory

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/roach88/motifcore/internal/metrics"
)

// ClusterToken introduces a cluster line in the archive index.
const ClusterToken = "REEF"

// archive is the lazily loaded cluster index.
type archive struct {
	mu         sync.Mutex
	path       string
	reload     bool
	retryDelay time.Duration

	loaded   bool
	modTime  time.Time
	clusters [][]string

	// unavailable is set after the first failed load and cleared by the
	// next successful one, so the outage is logged once.
	unavailable bool

	logger  *slog.Logger
	metrics *metrics.Metrics
	sleep   func(time.Duration)
}

func newArchive(path string, reload bool, retryDelay time.Duration, logger *slog.Logger, m *metrics.Metrics) *archive {
	return &archive{
		path:       path,
		reload:     reload,
		retryDelay: retryDelay,
		logger:     logger,
		metrics:    m,
		sleep:      time.Sleep,
	}
}

// snapshot returns the current clusters. changed reports that the cluster
// set differs from the one returned by the previous call, in which case
// anything derived from it must be discarded.
func (a *archive) snapshot() (clusters [][]string, changed bool) {
	if a == nil || a.path == "" {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.loaded && !a.reload {
		return a.clusters, false
	}

	var info fs.FileInfo
	err := a.retry(func() error {
		var statErr error
		info, statErr = os.Stat(a.path)
		return statErr
	})
	if err != nil {
		return nil, a.fail(err)
	}
	if a.loaded && !a.unavailable && info.ModTime().Equal(a.modTime) {
		return a.clusters, false
	}

	var parsed [][]string
	err = a.retry(func() error {
		var readErr error
		parsed, readErr = readClusters(a.path)
		return readErr
	})
	if err != nil {
		return nil, a.fail(err)
	}

	if a.unavailable {
		a.logger.Info("dyad archive available again", "path", a.path)
	}
	a.loaded = true
	a.unavailable = false
	a.modTime = info.ModTime()
	a.clusters = parsed
	a.logger.Debug("dyad archive loaded", "path", a.path, "clusters", len(parsed))
	return a.clusters, true
}

// retry runs fn and retries it once after retryDelay. A missing file is not
// retried.
func (a *archive) retry(fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return err
	}
	a.sleep(a.retryDelay)
	return fn()
}

// fail records an unavailable archive and reports whether previously
// returned clusters were dropped. Caller holds a.mu.
func (a *archive) fail(err error) bool {
	changed := len(a.clusters) > 0
	a.clusters = nil
	if !a.reload {
		a.loaded = true
	}
	if !a.unavailable {
		a.unavailable = true
		a.metrics.ArchiveUnavailable.Inc()
		a.logger.Warn("dyad archive unavailable", "path", a.path, "error", err)
	}
	return changed
}

// readClusters parses the archive index. Blank lines, comments and lines
// that do not start with ClusterToken are ignored; members are deduplicated
// in first-seen order.
func readClusters(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var clusters [][]string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] != ClusterToken {
			continue
		}
		seen := make(map[string]bool, len(fields)-1)
		members := make([]string, 0, len(fields)-1)
		for _, m := range fields[1:] {
			if !seen[m] {
				seen[m] = true
				members = append(members, m)
			}
		}
		if len(members) > 0 {
			clusters = append(clusters, members)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}
	return clusters, nil
}
