// Package backup dumps the database to timestamped files, mirrors the
// uploaded images next to them and restores a chosen dump on request.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"delivery-backend/internal/metrics"

	"github.com/sirupsen/logrus"
)

const (
	backupPrefix    = "database_backup_"
	backupExt       = ".dump"
	stampLayout     = "2006-01-02_15-04-05"
	imagesBackupDir = "images_backup"
	hashFile        = ".last_backup_hash.json"
)

var (
	ErrNotFound    = errors.New("backup not found")
	ErrInvalidName = errors.New("invalid backup filename")
	ErrEmptyDump   = errors.New("backup file is empty")
)

var validName = regexp.MustCompile(`^database_(backup_\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}|pre-restore_\d+)\.dump$`)

// Dumper writes a full database dump to dst and restores one from src.
type Dumper interface {
	Dump(ctx context.Context, dst string) error
	Restore(ctx context.Context, src string) error
}

// Mirror receives a copy of every successful dump.
type Mirror interface {
	Upload(ctx context.Context, name, path string) error
}

type Options struct {
	Dir       string
	ImagesDir string
	MaxCount  int
	Dumper    Dumper
	// Mirror is optional.
	Mirror Mirror
	// Fingerprint summarises the database state; equal values between two
	// runs mean the scheduled backup can be skipped.
	Fingerprint func(ctx context.Context) (string, error)
	Log         logrus.FieldLogger
	Now         func() time.Time
}

type Manager struct {
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time
	mu   sync.Mutex
}

type Entry struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	SizeMB   string    `json:"size_mb"`
	Created  time.Time `json:"created"`
}

type CreateResult struct {
	Filename       string `json:"filename"`
	Size           int64  `json:"size"`
	ImagesBackedUp bool   `json:"images_backed_up"`
	Mirrored       bool   `json:"mirrored"`
	Message        string `json:"message"`
}

type RestoreResult struct {
	Restored     string `json:"restored"`
	SafetyBackup string `json:"safety_backup"`
	Message      string `json:"message"`
}

type hashRecord struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

func NewManager(opts Options) *Manager {
	m := &Manager{opts: opts, log: opts.Log, now: opts.Now}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
}

// ValidateName accepts only dump names this package produces.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.opts.Dir, name)
}

func (m *Manager) Create(ctx context.Context) (*CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.create(ctx)
	if err != nil {
		metrics.ObserveBackup("error")
		return nil, err
	}
	metrics.ObserveBackup("success")
	return res, nil
}

func (m *Manager) create(ctx context.Context) (*CreateResult, error) {
	if err := os.MkdirAll(m.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	// Taken before the dump so writes racing the dump trigger the next run.
	fp, fpErr := m.fingerprint(ctx)
	if fpErr != nil {
		m.log.WithError(fpErr).Warn("backup: fingerprint failed")
	}

	name := backupPrefix + m.now().Format(stampLayout) + backupExt
	dst := m.path(name)
	if err := m.opts.Dumper.Dump(ctx, dst); err != nil {
		_ = os.Remove(dst)
		return nil, fmt.Errorf("dump database: %w", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("backup file was not created: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(dst)
		return nil, ErrEmptyDump
	}

	res := &CreateResult{Filename: name, Size: info.Size()}
	imagesSize, imgErr := m.mirrorImages()
	if imgErr != nil {
		m.log.WithError(imgErr).Warn("backup: images copy failed")
		res.Message = fmt.Sprintf("Database backed up (%s), but images backup failed: %v", megabytes(info.Size()), imgErr)
	} else {
		res.ImagesBackedUp = true
		res.Message = fmt.Sprintf("Backup created: DB %s, Images %s", megabytes(info.Size()), megabytes(imagesSize))
	}

	m.prune()
	if fpErr == nil {
		if err := m.saveHash(fp); err != nil {
			m.log.WithError(err).Warn("backup: saving fingerprint failed")
		}
	}

	if m.opts.Mirror != nil {
		if err := m.opts.Mirror.Upload(ctx, name, dst); err != nil {
			m.log.WithError(err).WithField("filename", name).Warn("backup: offsite upload failed")
		} else {
			res.Mirrored = true
		}
	}

	m.log.WithFields(logrus.Fields{
		"filename": name,
		"size":     info.Size(),
		"images":   res.ImagesBackedUp,
	}).Info("backup created")
	return res, nil
}

func (m *Manager) fingerprint(ctx context.Context) (string, error) {
	if m.opts.Fingerprint == nil {
		return "", errors.New("no fingerprint source")
	}
	return m.opts.Fingerprint(ctx)
}

// List returns the dumps newest first.
func (m *Manager) List() ([]Entry, error) {
	entries, err := os.ReadDir(m.opts.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	out := []Entry{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Filename: name,
			Size:     info.Size(),
			SizeMB:   megabytes(info.Size()),
			Created:  info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].Filename > out[j].Filename
	})
	return out, nil
}

func (m *Manager) prune() {
	if m.opts.MaxCount <= 0 {
		return
	}
	list, err := m.List()
	if err != nil {
		m.log.WithError(err).Warn("backup: listing for cleanup failed")
		return
	}
	for _, e := range list[min(len(list), m.opts.MaxCount):] {
		if err := os.Remove(m.path(e.Filename)); err != nil {
			m.log.WithError(err).WithField("filename", e.Filename).Warn("backup: removing old dump failed")
			continue
		}
		m.log.WithField("filename", e.Filename).Info("backup: removed old dump")
	}
}

// Restore loads the named dump after saving the current database as a
// pre-restore dump. A failed safety dump aborts the restore.
func (m *Manager) Restore(ctx context.Context, name string) (*RestoreResult, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.path(name)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	safety := fmt.Sprintf("database_pre-restore_%d%s", m.now().Unix(), backupExt)
	if err := m.opts.Dumper.Dump(ctx, m.path(safety)); err != nil {
		_ = os.Remove(m.path(safety))
		return nil, fmt.Errorf("safety dump: %w", err)
	}
	if err := m.opts.Dumper.Restore(ctx, src); err != nil {
		return nil, fmt.Errorf("restore %s: %w", name, err)
	}

	m.log.WithFields(logrus.Fields{"filename": name, "safety_backup": safety}).Warn("database restored")
	return &RestoreResult{
		Restored:     name,
		SafetyBackup: safety,
		Message:      fmt.Sprintf("Database restored successfully from %s. Safety backup created: %s", name, safety),
	}, nil
}

func (m *Manager) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete backup: %w", err)
	}
	m.log.WithField("filename", name).Info("backup deleted")
	return nil
}

// HasChanged compares the current fingerprint with the one saved by the
// last backup. Anything it cannot read counts as a change.
func (m *Manager) HasChanged(ctx context.Context) bool {
	current, err := m.fingerprint(ctx)
	if err != nil {
		m.log.WithError(err).Warn("backup: fingerprint failed")
		return true
	}
	b, err := os.ReadFile(m.path(hashFile))
	if err != nil {
		return true
	}
	var last hashRecord
	if err := json.Unmarshal(b, &last); err != nil {
		return true
	}
	return last.Hash != current
}

// RunScheduled is the nightly job: it backs up only when something changed.
func (m *Manager) RunScheduled(ctx context.Context) error {
	if !m.HasChanged(ctx) {
		m.log.Info("backup: no changes since last backup, skipping")
		metrics.ObserveBackup("skipped")
		return nil
	}
	_, err := m.Create(ctx)
	return err
}

func (m *Manager) saveHash(fp string) error {
	b, err := json.MarshalIndent(hashRecord{Hash: fp, Timestamp: m.now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path(hashFile), b, 0o644)
}

// mirrorImages replaces <dir>/images_backup with a fresh copy of the images
// directory and returns the number of bytes copied.
func (m *Manager) mirrorImages() (int64, error) {
	if m.opts.ImagesDir == "" {
		return 0, errors.New("images directory not configured")
	}
	if _, err := os.Stat(m.opts.ImagesDir); err != nil {
		return 0, fmt.Errorf("images directory not found: %w", err)
	}
	dst := m.path(imagesBackupDir)
	if err := os.RemoveAll(dst); err != nil {
		return 0, err
	}

	var total int64
	err := filepath.WalkDir(m.opts.ImagesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(m.opts.ImagesDir, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		n, err := copyFile(p, target)
		total += n
		return err
	})
	return total, err
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
