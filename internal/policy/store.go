package policy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/gatekeeper/internal/observability"
)

// Store loads the policy document and caches it in memory. Lookups are
// case-insensitive. Every lookup cheaply checks the backing file's
// modification time and reloads transparently when it changed; a load
// failure is never fatal — the store degrades to an empty table so a broken
// policy file fails closed rather than crashing the host.
type Store struct {
	path    string
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	table   map[string]*CommandPolicy
	modTime time.Time
	loaded  bool

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewStore creates a store backed by the given policy document path.
// The initial load happens lazily on first lookup.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "policy"),
	}
}

// Path returns the backing policy document path.
func (s *Store) Path() string { return s.path }

// SetMetrics attaches reload instrumentation. A nil receiver value disables it.
func (s *Store) SetMetrics(m *observability.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// GetPolicy returns the policy for a root command, or false when no policy
// exists. The root command is case-folded before lookup.
func (s *Store) GetPolicy(rootCmd string) (*CommandPolicy, bool) {
	s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()
	pol, ok := s.table[strings.ToLower(strings.TrimSpace(rootCmd))]
	return pol, ok
}

// HasPolicy reports whether a policy exists for the root command.
func (s *Store) HasPolicy(rootCmd string) bool {
	_, ok := s.GetPolicy(rootCmd)
	return ok
}

// AllPolicies returns a copy of the current policy table.
func (s *Store) AllPolicies() map[string]*CommandPolicy {
	s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*CommandPolicy, len(s.table))
	for name, pol := range s.table {
		out[name] = pol
	}
	return out
}

// Reload checks the backing file and reloads it when its modification time
// changed since the last load. It returns true when a reload happened;
// an unchanged file is a no-op on the cached table.
func (s *Store) Reload() bool {
	return s.refresh()
}

// refresh reloads the table when the file changed. The whole table is
// replaced atomically so concurrent readers never observe a partial update.
func (s *Store) refresh() bool {
	info, statErr := os.Stat(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if statErr != nil {
		if s.table != nil || !s.loaded {
			s.logger.Warn("policy document unavailable, failing closed",
				"path", s.path, "error", statErr)
		}
		s.table = nil
		s.modTime = time.Time{}
		s.loaded = true
		return false
	}
	if s.loaded && info.ModTime().Equal(s.modTime) {
		return false
	}

	table, err := loadDocument(s.path)
	if err != nil {
		s.logger.Warn("policy document failed to load, failing closed",
			"path", s.path, "error", err)
		s.table = nil
		s.modTime = info.ModTime()
		s.loaded = true
		s.countReload("failure")
		return true
	}

	s.table = table
	s.modTime = info.ModTime()
	s.loaded = true
	s.countReload("success")
	s.logger.Info("policy document loaded", "path", s.path, "policies", len(table))
	return true
}

// countReload is called with s.mu held.
func (s *Store) countReload(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.PolicyReloads.WithLabelValues(result).Inc()
}

// loadDocument parses the policy YAML into a case-folded table. Environment
// references in the raw document are expanded before parsing. Unknown fields
// are rejected so typos in a policy entry fail loudly instead of silently
// weakening a constraint.
func loadDocument(path string) (map[string]*CommandPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	var raw map[string]*CommandPolicy
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]*CommandPolicy{}, nil
		}
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("parse policy document: expected single document")
	}

	table := make(map[string]*CommandPolicy, len(raw))
	for name, pol := range raw {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || pol == nil {
			continue
		}
		if _, dup := table[key]; dup {
			return nil, fmt.Errorf("duplicate policy entry %q after case folding", key)
		}
		table[key] = pol
	}
	return table, nil
}

// Watch starts an fsnotify watcher on the policy document and reloads it on
// write or create events. The modification-time check on every lookup remains
// the always-on mechanism; watching just shortens the window. Stop with Close.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch policy document: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.watchCancel = cancel

	s.watchWg.Add(1)
	go func() {
		defer s.watchWg.Done()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		pending := false
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if !pending {
					pending = true
					debounce.Reset(250 * time.Millisecond)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("policy watcher error", "error", err)
			case <-debounce.C:
				pending = false
				s.Reload()
			}
		}
	}()
	return nil
}

// Close stops the watcher, if one is running.
func (s *Store) Close() error {
	if s.watchCancel != nil {
		s.watchCancel()
	}
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.watchWg.Wait()
	return err
}
