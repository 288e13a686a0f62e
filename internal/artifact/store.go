// Package artifact implements the content-addressed session store.
//
// Every submitted source gets a directory named after the SHA-1 of its
// text. The store keeps two orderings over the same entries: creation
// order, which drives listing and prev/next navigation, and recency order,
// which drives LRU eviction once the resident count exceeds capacity.
// The store owns its root directory; compilers only write into the
// directory they are handed.
package artifact

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/logging"
	"github.com/dyluth/patchbay/pkg/blackboard"
)

// DefaultCapacity is the resident entry limit when none is configured.
const DefaultCapacity = 50

const (
	stagingDir = ".staging"
	trashDir   = ".trash"
)

type indexEntry struct {
	meta    Metadata
	recency *list.Element
}

// Store is a bounded, content-addressed set of entries on disk.
// It is safe for concurrent use.
type Store struct {
	root     string
	capacity int
	logger   *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*indexEntry
	recency *list.List // front is least recently used
	created []string   // oldest first
}

// PutResult describes the outcome of Put or Commit.
type PutResult struct {
	Entry   *Entry
	Created bool
	Evicted []string
}

// Open loads the store rooted at root, creating the directory if needed.
// Existing entries are ordered by their recorded creation time; recency
// starts out equal to creation order.
func Open(root string, capacity int, logger *logging.Logger) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1, got %d", capacity)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &Store{
		root:     root,
		capacity: capacity,
		logger:   logger.Named("artifact"),
		now:      time.Now,
		entries:  make(map[string]*indexEntry),
		recency:  list.New(),
	}
	s.sweep(stagingDir)
	s.sweep(trashDir)
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load rebuilds the index from metadata.json files.
func (s *Store) load() error {
	items, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var found []Metadata
	for _, item := range items {
		if !item.IsDir() || !blackboard.ValidHash(item.Name()) {
			continue
		}
		meta, err := readMetadata(filepath.Join(s.root, item.Name()))
		if err != nil || meta.Hash != item.Name() {
			s.logger.Warn("skipping unreadable session", map[string]any{"sha1": item.Name(), "error": err})
			continue
		}
		found = append(found, meta)
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].CreatedAt < found[j].CreatedAt })

	s.mu.Lock()
	for _, meta := range found {
		s.entries[meta.Hash] = &indexEntry{meta: meta, recency: s.recency.PushBack(meta.Hash)}
		s.created = append(s.created, meta.Hash)
	}
	trash := s.evictLocked()
	s.mu.Unlock()
	s.purge(trash)

	s.logger.Event("sessions_loaded", map[string]any{"count": len(found), "resident": s.Len()})
	return nil
}

// Len returns the number of resident entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Capacity returns the resident entry limit.
func (s *Store) Capacity() int {
	return s.capacity
}

// Put stores source under its content hash. If the entry already exists it
// is touched and returned unchanged.
func (s *Store) Put(source, filename string) (*PutResult, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	if entry, ok := s.touch(HashSource(source)); ok {
		return &PutResult{Entry: entry}, nil
	}

	staged, err := s.Stage(source, filename)
	if err != nil {
		return nil, err
	}
	return s.Commit(staged)
}

// Staged is an entry laid out in a private directory, not yet visible.
type Staged struct {
	Entry
	source string
	store  *Store
}

// Stage lays out a new entry in a staging directory. The caller may run a
// compiler in Dir() and must then Commit or Discard it.
func (s *Store) Stage(source, filename string) (*Staged, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, stagingDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Internal(err, "failed to create staging directory")
	}

	meta := Metadata{Hash: HashSource(source), Filename: filename, CreatedAt: s.now().UnixMilli()}
	if err := writeSkeleton(dir, meta, source); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &Staged{Entry: Entry{Metadata: meta, dir: dir}, source: source, store: s}, nil
}

// Discard removes the staging directory.
func (st *Staged) Discard() {
	if err := os.RemoveAll(st.dir); err != nil {
		st.store.logger.Warn("failed to remove staging directory", map[string]any{"dir": st.dir, "error": err})
	}
}

// Commit makes a staged entry visible under its hash. If an entry with the
// same hash appeared in the meantime the staged copy is discarded and the
// existing entry is touched instead.
func (s *Store) Commit(st *Staged) (*PutResult, error) {
	s.mu.Lock()
	if existing, ok := s.entries[st.Hash]; ok {
		s.recency.MoveToBack(existing.recency)
		entry := s.entryLocked(existing.meta)
		s.mu.Unlock()
		st.Discard()
		return &PutResult{Entry: entry}, nil
	}

	final := filepath.Join(s.root, st.Hash)
	meta := st.Metadata
	meta.CreatedAt = s.now().UnixMilli()
	if err := writeMetadata(st.dir, meta); err != nil {
		s.mu.Unlock()
		st.Discard()
		return nil, err
	}
	if err := os.RemoveAll(final); err != nil {
		s.mu.Unlock()
		st.Discard()
		return nil, apperr.Internal(err, "failed to clear stale session directory")
	}
	if err := os.Rename(st.dir, final); err != nil {
		s.mu.Unlock()
		st.Discard()
		return nil, apperr.Internal(err, "failed to create session %s", st.Hash)
	}

	s.entries[meta.Hash] = &indexEntry{meta: meta, recency: s.recency.PushBack(meta.Hash)}
	s.created = append(s.created, meta.Hash)
	entry := s.entryLocked(meta)
	trash := s.evictLocked()
	s.mu.Unlock()

	evicted := s.purge(trash)
	s.logger.Event("session_created", map[string]any{"sha1": meta.Hash, "filename": meta.Filename})
	return &PutResult{Entry: entry, Created: true, Evicted: evicted}, nil
}

// Get returns an entry and marks it most recently used.
func (s *Store) Get(hash string) (*Entry, error) {
	if entry, ok := s.touch(hash); ok {
		return entry, nil
	}
	return nil, apperr.NotFound("session %s not found", hash).
		WithHint("list sessions to find a valid hash")
}

// Contains reports whether hash is resident without touching it.
func (s *Store) Contains(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[hash]
	return ok
}

// List returns entries in creation order, oldest first. With limit > 0
// only the most recent limit entries are returned.
func (s *Store) List(limit int) []Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes := s.created
	if limit > 0 && limit < len(hashes) {
		hashes = hashes[len(hashes)-limit:]
	}
	out := make([]Metadata, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, s.entries[h].meta)
	}
	return out
}

// Recency returns resident hashes from least to most recently used.
func (s *Store) Recency() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, s.recency.Len())
	for e := s.recency.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// Neighbors returns the hashes created just before and just after hash.
// Either may be empty at the ends of the list.
func (s *Store) Neighbors(hash string) (prev, next string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.created {
		if h != hash {
			continue
		}
		if i > 0 {
			prev = s.created[i-1]
		}
		if i < len(s.created)-1 {
			next = s.created[i+1]
		}
		return prev, next, nil
	}
	return "", "", apperr.NotFound("session %s not found", hash)
}

// Delete removes an entry. It returns false if the entry did not exist.
func (s *Store) Delete(hash string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[hash]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	trash, err := s.moveToTrash(hash)
	if err != nil {
		s.mu.Unlock()
		return false, apperr.Internal(err, "failed to delete session %s", hash)
	}
	s.unindexLocked(hash, e)
	s.mu.Unlock()

	s.removeTrash(hash, trash)
	s.logger.Event("session_deleted", map[string]any{"sha1": hash})
	return true, nil
}

func (s *Store) touch(hash string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[hash]
	if !ok {
		return nil, false
	}
	s.recency.MoveToBack(e.recency)
	return s.entryLocked(e.meta), true
}

func (s *Store) entryLocked(meta Metadata) *Entry {
	return &Entry{Metadata: meta, dir: filepath.Join(s.root, meta.Hash)}
}

func (s *Store) unindexLocked(hash string, e *indexEntry) {
	s.recency.Remove(e.recency)
	delete(s.entries, hash)
	for i, h := range s.created {
		if h == hash {
			s.created = append(s.created[:i:i], s.created[i+1:]...)
			break
		}
	}
}

type trashed struct {
	hash string
	dir  string
}

// evictLocked drops least recently used entries while over capacity and
// moves their directories aside. Directories are removed by purge.
func (s *Store) evictLocked() []trashed {
	var out []trashed
	for s.recency.Len() > s.capacity {
		hash := s.recency.Front().Value.(string)
		dir, err := s.moveToTrash(hash)
		if err != nil {
			s.logger.Error("failed to move evicted session aside", map[string]any{"sha1": hash, "error": err})
			dir = ""
		}
		s.unindexLocked(hash, s.entries[hash])
		out = append(out, trashed{hash: hash, dir: dir})
	}
	return out
}

// purge removes evicted directories and reports the evicted hashes.
func (s *Store) purge(items []trashed) []string {
	hashes := make([]string, 0, len(items))
	for _, t := range items {
		hashes = append(hashes, t.hash)
		s.removeTrash(t.hash, t.dir)
		s.logger.Event("session_evicted", map[string]any{"sha1": t.hash})
	}
	return hashes
}

func (s *Store) moveToTrash(hash string) (string, error) {
	trash := filepath.Join(s.root, trashDir)
	if err := os.MkdirAll(trash, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(trash, hash+"-"+uuid.NewString())
	if err := os.Rename(filepath.Join(s.root, hash), dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return dst, nil
}

func (s *Store) removeTrash(hash, dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Error("failed to remove session directory", map[string]any{"sha1": hash, "dir": dir, "error": err})
	}
}

// sweep removes leftovers of an interrupted run.
func (s *Store) sweep(name string) {
	dir := filepath.Join(s.root, name)
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove stale directory", map[string]any{"dir": dir, "error": err})
	}
}

func readMetadata(dir string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("invalid metadata: %w", err)
	}
	return meta, nil
}

func marshalMetadata(meta Metadata) ([]byte, error) {
	return json.MarshalIndent(meta, "", "  ")
}
