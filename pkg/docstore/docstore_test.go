package docstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) *Store[testDoc] {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "doc.json"), func() testDoc {
		return testDoc{Name: "default", Count: 7}
	})
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "default", doc.Name)
	assert.Equal(t, 7, doc.Count)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(testDoc{Name: "saved", Count: 42}))

	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, testDoc{Name: "saved", Count: 42}, doc)
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"name":"partial"}`), 0o644))

	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "partial", doc.Name)
	assert.Equal(t, 7, doc.Count, "fields absent from the document keep defaults")
}

func TestLoadCorruptFileFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	_, err := s.Load()
	assert.Error(t, err)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(testDoc{Name: "a"}))
	require.NoError(t, s.Save(testDoc{Name: "b"}))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the document itself should remain")
}

func TestSaveSetsDocumentMode(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(testDoc{Name: "a"}))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm(), "documents stay editable by the operator")
}

func TestUpdateAppliesAndPersists(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Update(func(d *testDoc) error {
		d.Count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 8, got.Count)

	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 8, doc.Count)
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(testDoc{Count: 0}))

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(func(d *testDoc) error {
				d.Count++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, n, doc.Count)
}
