package artifact

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/patchbay/internal/apperr"
	"github.com/dyluth/patchbay/internal/logging"
)

// setupTestStore opens a store in a temp dir with a deterministic clock.
func setupTestStore(t *testing.T, capacity int) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := Open(root, capacity, logging.Nop())
	require.NoError(t, err)
	s.now = steppingClock()
	return s, root
}

// steppingClock advances one millisecond per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestHashSource(t *testing.T) {
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", HashSource(""))
	assert.Equal(t, HashSource("process = _;"), HashSource("process = _;"))
	assert.NotEqual(t, HashSource("process = _;"), HashSource("process = _ ;"))
	assert.Len(t, HashSource("anything"), 40)
}

func TestValidateFilename(t *testing.T) {
	assert.NoError(t, ValidateFilename("osc.dsp"))
	for _, bad := range []string{"", ".dsp", "osc.txt", "../osc.dsp", "dir/osc.dsp", `dir\osc.dsp`} {
		err := ValidateFilename(bad)
		assert.Error(t, err, bad)
		assert.True(t, apperr.Is(err, apperr.KindInvalidInput), bad)
	}
}

func TestPut(t *testing.T) {
	t.Run("creates the entry layout", func(t *testing.T) {
		s, root := setupTestStore(t, 10)

		res, err := s.Put("process = +;", "add.dsp")
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Empty(t, res.Evicted)

		dir := filepath.Join(root, HashSource("process = +;"))
		assert.Equal(t, dir, res.Entry.Dir())
		for _, name := range []string{"sourcecode/add.dsp", SourceFile, DiagnosticsFile, MetadataFile} {
			assert.FileExists(t, filepath.Join(dir, name))
		}

		meta, err := readMetadata(dir)
		require.NoError(t, err)
		assert.Equal(t, res.Entry.Metadata, meta)
		assert.Equal(t, "add.dsp", meta.Filename)
	})

	t.Run("identical resubmission returns the same entry without duplicating", func(t *testing.T) {
		s, root := setupTestStore(t, 10)

		first, err := s.Put("process = _;", "a.dsp")
		require.NoError(t, err)
		second, err := s.Put("process = _;", "b.dsp")
		require.NoError(t, err)

		assert.False(t, second.Created)
		assert.Equal(t, first.Entry.Metadata, second.Entry.Metadata)
		assert.Equal(t, 1, s.Len())

		items, err := os.ReadDir(root)
		require.NoError(t, err)
		count := 0
		for _, item := range items {
			if item.Name() == first.Entry.Hash {
				count++
			}
		}
		assert.Equal(t, 1, count)
		assert.NoFileExists(t, filepath.Join(first.Entry.Dir(), "sourcecode", "b.dsp"))
	})

	t.Run("rejects bad filenames", func(t *testing.T) {
		s, _ := setupTestStore(t, 10)
		_, err := s.Put("x", "x.cpp")
		assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
		assert.Equal(t, 0, s.Len())
	})
}

func TestLRUEviction(t *testing.T) {
	t.Run("capacity two evicts the least recently used", func(t *testing.T) {
		s, root := setupTestStore(t, 2)

		a, err := s.Put("A", "a.dsp")
		require.NoError(t, err)
		b, err := s.Put("B", "b.dsp")
		require.NoError(t, err)

		_, err = s.Get(a.Entry.Hash)
		require.NoError(t, err)

		c, err := s.Put("C", "c.dsp")
		require.NoError(t, err)
		assert.Equal(t, []string{b.Entry.Hash}, c.Evicted)

		_, err = s.Get(b.Entry.Hash)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		assert.NoDirExists(t, filepath.Join(root, b.Entry.Hash))

		_, err = s.Get(a.Entry.Hash)
		assert.NoError(t, err)
		_, err = s.Get(c.Entry.Hash)
		assert.NoError(t, err)

		assert.Equal(t, []string{a.Entry.Hash, c.Entry.Hash}, hashes(s.List(0)))
	})

	t.Run("resident count never exceeds capacity", func(t *testing.T) {
		s, _ := setupTestStore(t, 3)
		for i := 0; i < 10; i++ {
			_, err := s.Put(string(rune('a'+i)), "x.dsp")
			require.NoError(t, err)
			assert.LessOrEqual(t, s.Len(), 3)
			assert.LessOrEqual(t, len(s.Recency()), 3)
		}
	})

	t.Run("resubmission touches recency", func(t *testing.T) {
		s, _ := setupTestStore(t, 2)
		a, _ := s.Put("A", "a.dsp")
		b, _ := s.Put("B", "b.dsp")
		_, err := s.Put("A", "a.dsp")
		require.NoError(t, err)

		assert.Equal(t, []string{b.Entry.Hash, a.Entry.Hash}, s.Recency())
	})
}

func TestList(t *testing.T) {
	s, _ := setupTestStore(t, 10)
	var all []string
	for _, src := range []string{"one", "two", "three", "four"} {
		res, err := s.Put(src, "x.dsp")
		require.NoError(t, err)
		all = append(all, res.Entry.Hash)
	}

	// Recency changes must not reorder creation listing.
	_, err := s.Get(all[0])
	require.NoError(t, err)

	assert.Equal(t, all, hashes(s.List(0)))
	assert.Equal(t, all[2:], hashes(s.List(2)))
	assert.Equal(t, all, hashes(s.List(100)))

	prev, next, err := s.Neighbors(all[1])
	require.NoError(t, err)
	assert.Equal(t, all[0], prev)
	assert.Equal(t, all[2], next)

	prev, next, err = s.Neighbors(all[0])
	require.NoError(t, err)
	assert.Empty(t, prev)
	assert.Equal(t, all[1], next)

	_, _, err = s.Neighbors(HashSource("missing"))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDelete(t *testing.T) {
	s, root := setupTestStore(t, 10)
	res, err := s.Put("gone", "g.dsp")
	require.NoError(t, err)

	ok, err := s.Delete(res.Entry.Hash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoDirExists(t, filepath.Join(root, res.Entry.Hash))
	assert.Empty(t, s.List(0))
	assert.Empty(t, s.Recency())

	ok, err = s.Delete(res.Entry.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStageAndCommit(t *testing.T) {
	t.Run("staged entries are invisible until committed", func(t *testing.T) {
		s, root := setupTestStore(t, 10)

		st, err := s.Stage("process = 1;", "one.dsp")
		require.NoError(t, err)
		assert.False(t, s.Contains(st.Hash))
		require.NoError(t, st.WriteFile(CompiledFile, []byte("// cpp")))

		res, err := s.Commit(st)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.True(t, res.Entry.HasOutput())
		assert.NoDirExists(t, st.Dir())
		assert.DirExists(t, filepath.Join(root, st.Hash))
	})

	t.Run("discard leaves nothing behind", func(t *testing.T) {
		s, root := setupTestStore(t, 10)
		st, err := s.Stage("process = 2;", "two.dsp")
		require.NoError(t, err)
		st.Discard()

		assert.NoDirExists(t, st.Dir())
		assert.NoDirExists(t, filepath.Join(root, st.Hash))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("commit of an existing hash touches it", func(t *testing.T) {
		s, _ := setupTestStore(t, 10)
		first, err := s.Put("same", "a.dsp")
		require.NoError(t, err)

		st, err := s.Stage("same", "b.dsp")
		require.NoError(t, err)
		res, err := s.Commit(st)
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, first.Entry.Metadata, res.Entry.Metadata)
		assert.NoDirExists(t, st.Dir())
	})
}

func TestOpenRecoversEntries(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, 10, logging.Nop())
	require.NoError(t, err)
	s.now = steppingClock()

	var created []string
	for _, src := range []string{"first", "second", "third"} {
		res, err := s.Put(src, "x.dsp")
		require.NoError(t, err)
		created = append(created, res.Entry.Hash)
	}

	// Leftovers from an interrupted run.
	require.NoError(t, os.MkdirAll(filepath.Join(root, stagingDir, "junk"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-session"), 0o755))

	t.Run("reloads in creation order", func(t *testing.T) {
		reopened, err := Open(root, 10, logging.Nop())
		require.NoError(t, err)
		assert.Equal(t, created, hashes(reopened.List(0)))
		assert.Equal(t, created, reopened.Recency())
		assert.NoDirExists(t, filepath.Join(root, stagingDir))
	})

	t.Run("evicts down to a smaller capacity", func(t *testing.T) {
		reopened, err := Open(root, 2, logging.Nop())
		require.NoError(t, err)
		assert.Equal(t, created[1:], hashes(reopened.List(0)))
		assert.NoDirExists(t, filepath.Join(root, created[0]))
	})

	t.Run("rejects zero capacity", func(t *testing.T) {
		_, err := Open(root, 0, logging.Nop())
		assert.Error(t, err)
	})
}

func hashes(items []Metadata) []string {
	out := make([]string, 0, len(items))
	for _, m := range items {
		out = append(out, m.Hash)
	}
	return out
}
