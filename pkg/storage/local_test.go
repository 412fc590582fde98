package storage

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	fs = afero.NewMemMapFs()
	s, err := NewLocalStorage("/data")
	require.NoError(t, err)

	key := HistoryKey("danny")
	payload := []byte(`[{"role":"user","content":"hi"}]`)

	require.NoError(t, s.Write(key, payload))

	read, err := s.Read(key)
	require.NoError(t, err)
	assert.Equal(t, payload, read)

	// Overwrites replace the content completely.
	require.NoError(t, s.Write(key, []byte("[]")))
	read, err = s.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), read)
}

func TestLocalReadMissing(t *testing.T) {
	fs = afero.NewMemMapFs()
	s, err := NewLocalStorage("/data")
	require.NoError(t, err)

	_, err = s.Read(HistoryKey("nobody"))
	assert.True(t, IsNotFound(err))
}

func TestLocalRemove(t *testing.T) {
	fs = afero.NewMemMapFs()
	s, err := NewLocalStorage("/data")
	require.NoError(t, err)

	key := UploadKey("danny", "cat.png")
	require.NoError(t, s.Write(key, []byte("png")))
	require.NoError(t, s.Remove(key))

	_, err = s.Read(key)
	assert.True(t, IsNotFound(err))

	assert.True(t, IsNotFound(s.Remove(key)))
}

func TestLocalList(t *testing.T) {
	fs = afero.NewMemMapFs()
	s, err := NewLocalStorage("/data")
	require.NoError(t, err)

	require.NoError(t, s.Write(UploadKey("danny", "b.txt"), []byte("b")))
	require.NoError(t, s.Write(UploadKey("danny", "a.txt"), []byte("a")))
	require.NoError(t, s.Write(UploadKey("neben", "c.txt"), []byte("c")))
	require.NoError(t, s.Write(HistoryKey("danny"), []byte("[]")))

	keys, err := s.List(Key{Category: CategoryUploads, Owner: "danny"})
	require.NoError(t, err)
	assert.Equal(t, []Key{
		UploadKey("danny", "a.txt"),
		UploadKey("danny", "b.txt"),
	}, keys)

	keys, err = s.List(Key{Category: CategoryUploads})
	require.NoError(t, err)
	assert.Equal(t, []Key{
		UploadKey("danny", "a.txt"),
		UploadKey("danny", "b.txt"),
		UploadKey("neben", "c.txt"),
	}, keys)

	keys, err = s.List(Key{Category: CategoryHistory})
	require.NoError(t, err)
	assert.Equal(t, []Key{HistoryKey("danny")}, keys)
}

func TestLocalListEmpty(t *testing.T) {
	fs = afero.NewMemMapFs()
	s, err := NewLocalStorage("/data")
	require.NoError(t, err)

	keys, err := s.List(Key{Category: CategoryHistory})
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalInvalidKeyNeverTouchesDisk(t *testing.T) {
	fs = afero.NewMemMapFs()
	s, err := NewLocalStorage("/data")
	require.NoError(t, err)

	err = s.Write(UploadKey("danny", "../../escape"), []byte("x"))
	assert.True(t, IsInvalidKey(err))

	// Nothing may exist outside the storage root.
	exists, err := afero.Exists(fs, "/escape")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalWriteLeavesNoTempFiles(t *testing.T) {
	fs = afero.NewMemMapFs()
	s, err := NewLocalStorage("/data")
	require.NoError(t, err)

	require.NoError(t, s.Write(HistoryKey("danny"), []byte("[]")))

	entries, err := afero.ReadDir(fs, "/data/history")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "danny.json", entries[0].Name())
}
