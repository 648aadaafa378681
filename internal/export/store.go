package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/dgnsrekt/tab_sentinel/internal/storage"
)

var (
	ErrNotFound  = errors.New("export not found")
	ErrInvalidID = errors.New("invalid export id")
)

// Meta describes one stored snapshot.
type Meta struct {
	ID        string    `json:"id"`
	TabID     string    `json:"tabId"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	Filename  string    `json:"filename"`
	SizeBytes int       `json:"sizeBytes"`
	Size      string    `json:"size"`
	Path      string    `json:"-"`
}

// Store keeps snapshots as <dir>/<YYYY-MM-DD>/<url path segment>/<id>.json.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Save writes snap and returns its metadata.
func (s *Store) Save(snap Snapshot) (Meta, error) {
	if err := validateID(snap.ID); err != nil {
		return Meta{}, err
	}
	segment, err := storage.TransformURLToPathSegment(snap.URL)
	if err != nil {
		segment = "root"
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("export store: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, snap.Timestamp.UTC().Format("2006-01-02"), segment)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Meta{}, fmt.Errorf("export store: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, snap.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Meta{}, fmt.Errorf("export store: write: %w", err)
	}
	slog.Debug("export saved", "id", snap.ID, "path", path)
	return metaFor(snap, path, len(data)), nil
}

func metaFor(snap Snapshot, path string, size int) Meta {
	return Meta{
		ID:        snap.ID,
		TabID:     snap.TabInfo.TabID,
		URL:       snap.URL,
		CreatedAt: snap.Timestamp,
		Filename:  Filename(snap.Timestamp),
		SizeBytes: size,
		Size:      humanize.IBytes(uint64(size)),
		Path:      path,
	}
}

// locate finds the file for id. Callers hold s.mu.
func (s *Store) locate(id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*", "*", id+".json"))
	if err != nil {
		return "", fmt.Errorf("export store: glob: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return matches[0], nil
}

func readSnapshot(path string) (Snapshot, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, 0, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, 0, err
	}
	return snap, len(data), nil
}

// Get reads one snapshot by id.
func (s *Store) Get(id string) (Snapshot, error) {
	if err := validateID(id); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.locate(id)
	if err != nil {
		return Snapshot{}, err
	}
	snap, _, err := readSnapshot(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Snapshot{}, fmt.Errorf("export store: read %s: %w", id, err)
	}
	return snap, nil
}

// List returns every stored snapshot, newest first. Unreadable files are
// skipped.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*", "*", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("export store: glob: %w", err)
	}
	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		snap, size, err := readSnapshot(path)
		if err != nil {
			slog.Debug("export unreadable, skipped", "path", path, "error", err)
			continue
		}
		metas = append(metas, metaFor(snap, path, size))
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Delete removes one snapshot.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.locate(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("export store: remove %s: %w", id, err)
	}
	return nil
}
