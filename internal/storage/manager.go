// Package storage manages per-job artifact directories on disk with
// TTL-based cleanup keyed on directory modification time.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manager owns the artifact area under baseDir. Each job gets one
// directory named after its id. Cleanup is opportunistic: callers
// trigger it on job completion and CleanupIfNeeded rate-limits the
// actual directory scan.
type Manager struct {
	baseDir string
	ttl     time.Duration

	mu          sync.Mutex
	lastCleanup time.Time
	interval    time.Duration
}

// NewManager creates the artifact area rooted at baseDir.
func NewManager(baseDir string, ttlHours, cleanupIntervalMinutes int) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	return &Manager{
		baseDir:  baseDir,
		ttl:      time.Duration(ttlHours) * time.Hour,
		interval: time.Duration(cleanupIntervalMinutes) * time.Minute,
	}, nil
}

// JobDir ensures and returns the directory for the given job id.
func (m *Manager) JobDir(id string) (string, error) {
	dir := filepath.Join(m.baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating job dir: %w", err)
	}
	return dir, nil
}

// ExpiryAt returns the advisory "artifacts available until" timestamp.
// It is not enforced against reads before the sweep runs.
func (m *Manager) ExpiryAt(now time.Time) time.Time {
	return now.Add(m.ttl)
}

// WriteText writes a UTF-8 text artifact into the job directory.
func (m *Manager) WriteText(id, filename, content string) (string, error) {
	return m.WriteBytes(id, filename, []byte(content))
}

// WriteBytes writes a binary artifact into the job directory.
func (m *Manager) WriteBytes(id, filename string, data []byte) (string, error) {
	dir, err := m.JobDir(id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", filename, err)
	}
	return path, nil
}

// WriteJSON marshals payload with indentation and writes it as an artifact.
func (m *Manager) WriteJSON(id, filename string, payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling artifact %s: %w", filename, err)
	}
	return m.WriteBytes(id, filename, data)
}

// CleanupExpired removes every job directory whose modification time
// precedes now minus the TTL and returns the removed paths. The sweep is
// independent of the job-record TTL; the two are not reconciled.
func (m *Manager) CleanupExpired(now time.Time) []string {
	cutoff := now.Add(-m.ttl)
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		slog.Warn("artifact cleanup scan failed", "dir", m.baseDir, "error", err)
		return nil
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(m.baseDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				slog.Warn("removing expired artifacts failed", "path", path, "error", err)
				continue
			}
			removed = append(removed, path)
		}
	}
	if len(removed) > 0 {
		slog.Info("expired artifacts removed", "count", len(removed))
	}
	return removed
}

// CleanupIfNeeded runs CleanupExpired at most once per configured
// interval. The last-run timestamp is process-wide shared state with its
// own guard so completing jobs do not trigger a scan storm.
func (m *Manager) CleanupIfNeeded(now time.Time) []string {
	m.mu.Lock()
	if !m.lastCleanup.IsZero() && now.Sub(m.lastCleanup) < m.interval {
		m.mu.Unlock()
		return nil
	}
	m.lastCleanup = now
	m.mu.Unlock()

	return m.CleanupExpired(now)
}
