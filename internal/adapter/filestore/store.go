// Package filestore keeps versioned artifact sets on a local or mounted
// filesystem. Each training run writes into versions/<run-id>/ and becomes
// current when the CURRENT pointer is renamed into place.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/jonboulle/clockwork"
)

const (
	versionsDir = "versions"
	currentFile = "CURRENT"
	lockFile    = ".lock"
)

// ErrLocked means another training run holds the artifact namespace.
var ErrLocked = errors.New("artifact store is locked by another training run")

// Store implements registry.Store on a directory tree.
type Store struct {
	root    string
	lockTTL time.Duration
	keep    int
	clock   clockwork.Clock
	logger  *slog.Logger
}

// New creates a Store rooted at root. A lock file older than lockTTL is
// treated as abandoned. Publish keeps the keep most recent versions.
func New(root string, lockTTL time.Duration, keep int, clock clockwork.Clock, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, versionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	if keep < 1 {
		keep = 1
	}
	return &Store{root: root, lockTTL: lockTTL, keep: keep, clock: clock, logger: logger}, nil
}

// Lock creates the lock file exclusively. A stale lock is removed once.
func (s *Store) Lock(_ context.Context) (func() error, error) {
	path := filepath.Join(s.root, lockFile)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "pid=%d acquired=%s\n", os.Getpid(), s.clock.Now().UTC().Format(time.RFC3339))
			if err := f.Close(); err != nil {
				os.Remove(path) //nolint:errcheck // best-effort cleanup
				return nil, fmt.Errorf("write lock file: %w", err)
			}
			return func() error {
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				return nil
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if !s.staleLock(path) {
			return nil, ErrLocked
		}
		s.logger.Warn("removing stale artifact lock", "path", path, "ttl", s.lockTTL)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, ErrLocked
}

func (s *Store) staleLock(path string) bool {
	if s.lockTTL <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	return s.clock.Since(info.ModTime()) > s.lockTTL
}

// Put writes name inside the staged version directory.
func (s *Store) Put(_ context.Context, version, name string, data []byte) error {
	path, err := s.artifactPath(version, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	return writeAtomic(path, data)
}

// Publish points CURRENT at version and prunes old versions.
func (s *Store) Publish(ctx context.Context, version string) error {
	dir, err := s.versionDir(version)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("stat version %s: %w", version, err)
	}
	previous, _ := s.Current(ctx) // unreadable pointer: nothing to protect
	if err := writeAtomic(filepath.Join(s.root, currentFile), []byte(version+"\n")); err != nil {
		return fmt.Errorf("write current pointer: %w", err)
	}
	s.prune(version, previous)
	return nil
}

// Discard removes an unpublished version.
func (s *Store) Discard(_ context.Context, version string) error {
	dir, err := s.versionDir(version)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Current reads the CURRENT pointer.
func (s *Store) Current(_ context.Context) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, currentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("current pointer: %w", domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read current pointer: %w", err)
	}
	version := strings.TrimSpace(string(data))
	if _, err := s.versionDir(version); err != nil {
		return "", fmt.Errorf("current pointer holds %q: %w", version, err)
	}
	return version, nil
}

// Get reads one artifact of version.
func (s *Store) Get(_ context.Context, version, name string) ([]byte, error) {
	path, err := s.artifactPath(version, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// List returns the regular files directly under dir of version. A missing
// directory lists as empty; a missing version is an error.
func (s *Store) List(_ context.Context, version, dir string) ([]string, error) {
	vdir, err := s.versionDir(version)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(vdir); err != nil {
		return nil, fmt.Errorf("stat version %s: %w", version, err)
	}
	entries, err := os.ReadDir(filepath.Join(vdir, filepath.FromSlash(dir)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Versions lists published and staged version directories, newest first.
func (s *Store) Versions() ([]string, error) {
	ds, err := s.datedVersions()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.name
	}
	return out, nil
}

type datedVersion struct {
	name string
	mod  time.Time
}

func (s *Store) datedVersions() ([]datedVersion, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, versionsDir))
	if err != nil {
		return nil, err
	}
	var ds []datedVersion
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		ds = append(ds, datedVersion{e.Name(), info.ModTime()})
	}
	slices.SortFunc(ds, func(a, b datedVersion) int {
		if c := b.mod.Compare(a.mod); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})
	return ds, nil
}

// prune removes versions beyond the keep most recent. The version CURRENT
// pointed at before this publish and any version written within the lock TTL
// are spared, since a replica may still be loading them.
func (s *Store) prune(current, previous string) {
	versions, err := s.datedVersions()
	if err != nil {
		s.logger.Warn("list versions for pruning failed", "error", err)
		return
	}
	kept := 1
	for _, v := range versions {
		if v.name == current {
			continue
		}
		if kept < s.keep {
			kept++
			continue
		}
		if v.name == previous || (s.lockTTL > 0 && s.clock.Since(v.mod) < s.lockTTL) {
			s.logger.Debug("sparing recent artifact version", "version", v.name)
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, versionsDir, v.name)); err != nil {
			s.logger.Warn("prune artifact version failed", "version", v.name, "error", err)
			continue
		}
		s.logger.Debug("pruned artifact version", "version", v.name)
	}
}

func (s *Store) versionDir(version string) (string, error) {
	if version == "" || !filepath.IsLocal(version) || strings.ContainsAny(version, `/\`) {
		return "", fmt.Errorf("invalid artifact version %q", version)
	}
	return filepath.Join(s.root, versionsDir, version), nil
}

func (s *Store) artifactPath(version, name string) (string, error) {
	dir, err := s.versionDir(version)
	if err != nil {
		return "", err
	}
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(dir, rel), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
