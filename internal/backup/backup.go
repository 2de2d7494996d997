// Package backup snapshots the local sqlite stores into tar.gz archives.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix      = "airops_"
	timestampLayout = "20060102_150405"
)

// Source writes a consistent copy of one database to path
type Source interface {
	SnapshotTo(ctx context.Context, path string) error
}

// Manager handles backup and restore operations.
type Manager struct {
	sources   map[string]Source // archive member name -> database
	backupDir string
	retention int
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Config holds backup configuration.
type Config struct {
	Sources   map[string]Source
	BackupDir string
	Retention int           // Number of backups to keep, 0 keeps all
	Interval  time.Duration // How often to run backups (0 = disabled)
	Logger    *slog.Logger
}

// Snapshot represents a backup archive.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
}

// New creates a new backup Manager.
func New(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		sources:   cfg.Sources,
		backupDir: cfg.BackupDir,
		retention: cfg.Retention,
		interval:  cfg.Interval,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Start begins periodic backup if interval > 0.
func (m *Manager) Start() {
	if m.interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Backup(ctx); err != nil && ctx.Err() == nil {
					m.logger.Warn("Backup failed", "error", err)
				}
			}
		}
	}()

	m.logger.Info("Backup automation started", "interval", m.interval, "retention", m.retention)
}

// Stop halts periodic backup.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
		m.cancel = nil
		m.logger.Info("Backup automation stopped")
	}
}

// Backup snapshots every source into one archive and applies retention.
func (m *Manager) Backup(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sources) == 0 {
		return nil, errors.New("no databases to back up")
	}

	staging, err := os.MkdirTemp(m.backupDir, ".staging-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	names := make([]string, 0, len(m.sources))
	for name, src := range m.sources {
		if err := src.SnapshotTo(ctx, filepath.Join(staging, name)); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	timestamp := m.now()
	filename := filePrefix + timestamp.Format(timestampLayout) + ".tar.gz"
	backupPath := filepath.Join(m.backupDir, filename)

	if err := writeArchive(backupPath, staging, names); err != nil {
		_ = os.Remove(backupPath)
		return nil, fmt.Errorf("failed to create backup: %w", err)
	}

	stat, err := os.Stat(backupPath)
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{
		Timestamp: timestamp,
		Filename:  filename,
		SizeBytes: stat.Size(),
	}
	m.logger.Info("Created backup", "file", filename, "bytes", stat.Size(), "databases", len(names))

	m.enforceRetention()
	return snapshot, nil
}

func writeArchive(backupPath, dir string, names []string) error {
	file, err := os.Create(backupPath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	gw := gzip.NewWriter(file)
	tw := tar.NewWriter(gw)

	for _, name := range names {
		if err := addFile(tw, filepath.Join(dir, name), name); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return file.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Restore extracts the databases of a backup into destDir. Nothing may
// have the databases open while they are replaced.
func (m *Manager) Restore(filename, destDir string) ([]string, error) {
	if filepath.Base(filename) != filename || !strings.HasSuffix(filename, ".tar.gz") {
		return nil, fmt.Errorf("invalid backup name: %s", filename)
	}
	backupPath := filepath.Join(m.backupDir, filename)
	file, err := os.Open(backupPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("backup not found: %s", filename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer func() { _ = file.Close() }()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress backup: %w", err)
	}
	defer func() { _ = gr.Close() }()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tr := tar.NewReader(gr)
	var restored []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("failed to read backup: %w", err)
		}

		// archives only ever hold flat database files
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != header.Name || !strings.HasSuffix(header.Name, ".db") {
			continue
		}

		targetPath := filepath.Join(destDir, header.Name)
		if err := extractFile(tr, targetPath); err != nil {
			return restored, err
		}
		// stale WAL and journal files belong to the replaced database
		for _, suffix := range []string{"-wal", "-shm", "-journal"} {
			_ = os.Remove(targetPath + suffix)
		}
		restored = append(restored, header.Name)
	}

	m.logger.Info("Restored from backup", "file", filename, "databases", restored)
	return restored, nil
}

func extractFile(r io.Reader, targetPath string) error {
	tmp := targetPath + ".restore"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, targetPath)
}

// ListSnapshots returns all available snapshots, newest first.
func (m *Manager) ListSnapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".tar.gz") {
			continue
		}

		// airops_YYYYMMDD_HHMMSS.tar.gz
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".tar.gz")
		timestamp, err := time.ParseInLocation(timestampLayout, stamp, time.Local)
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		snapshots = append(snapshots, Snapshot{
			Timestamp: timestamp,
			Filename:  name,
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})

	return snapshots, nil
}

// enforceRetention removes old backups beyond retention limit.
func (m *Manager) enforceRetention() {
	if m.retention <= 0 {
		return
	}
	snapshots, err := m.ListSnapshots()
	if err != nil || len(snapshots) <= m.retention {
		return
	}

	for _, snap := range snapshots[m.retention:] {
		if err := os.Remove(filepath.Join(m.backupDir, snap.Filename)); err == nil {
			m.logger.Info("Removed old backup", "file", snap.Filename)
		}
	}
}

// ExportManifest creates a JSON manifest of all snapshots.
func (m *Manager) ExportManifest() ([]byte, error) {
	snapshots, err := m.ListSnapshots()
	if err != nil {
		return nil, err
	}

	manifest := struct {
		ExportedAt time.Time  `json:"exported_at"`
		BackupDir  string     `json:"backup_dir"`
		Snapshots  []Snapshot `json:"snapshots"`
	}{
		ExportedAt: m.now(),
		BackupDir:  m.backupDir,
		Snapshots:  snapshots,
	}

	return json.MarshalIndent(manifest, "", "  ")
}
