package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadChunkStore_NormalizesShapes(t *testing.T) {
	dir := t.TempDir()
	meta := writeFile(t, dir, "chunk_metadata.json", `[
		{"paper_id": "p1", "chunk_id": "p1_0", "text": "alpha", "page_num": 2},
		{"paper_id": 42, "chunk_id": 7, "text": "beta"},
		{"paper_id": "p1", "text": "gamma", "page_num": 3}
	]`)

	s, err := LoadChunkStore(meta, filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 2, s.Papers())

	c, ok := s.At(1)
	require.True(t, ok)
	assert.Equal(t, "42", c.PaperID)
	assert.Equal(t, "7", c.ChunkID)
	assert.Equal(t, 1, c.PageNum)
	assert.Equal(t, 1, c.EmbeddingIndex)

	c, ok = s.At(2)
	require.True(t, ok)
	assert.Equal(t, "2", c.ChunkID)

	for i := 0; i < s.Len(); i++ {
		c, ok := s.At(i)
		require.True(t, ok)
		assert.NotEmpty(t, c.ChunkID)
	}

	chunks := s.PaperChunks("p1")
	require.Len(t, chunks, 2)
	assert.Equal(t, "alpha", chunks[0].Text)
	assert.Equal(t, "gamma", chunks[1].Text)
}

func TestLoadChunkStore_MappingDropsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	meta := writeFile(t, dir, "chunk_metadata.json", `[
		{"paper_id": "a", "chunk_id": "a0", "text": "x", "page_num": 1},
		{"paper_id": "b", "chunk_id": "b0", "text": "y", "page_num": 1},
		{"paper_id": "a", "chunk_id": "a1", "text": "z", "page_num": 2}
	]`)
	mapping := writeFile(t, dir, "paper_index_mapping.json", `{"a": [2, 0, 99], "b": [1], "c": [-1, 50]}`)

	s, err := LoadChunkStore(meta, mapping)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Papers())

	chunks := s.PaperChunks("a")
	require.Len(t, chunks, 2)
	assert.Equal(t, "a0", chunks[0].ChunkID)
	assert.Equal(t, "a1", chunks[1].ChunkID)
	assert.Empty(t, s.PaperChunks("c"))
}

func TestLoadChunkStore_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadChunkStore(filepath.Join(dir, "nope.json"), "")
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.json", `{"not": "an array"}`)
	_, err = LoadChunkStore(bad, "")
	assert.Error(t, err)
}

func TestChunkStore_OutOfBounds(t *testing.T) {
	var nilStore *ChunkStore
	_, ok := nilStore.At(0)
	assert.False(t, ok)
	assert.Equal(t, 0, nilStore.Len())

	s := NewChunkStore(nil)
	_, ok = s.At(0)
	assert.False(t, ok)
	_, ok = s.At(-1)
	assert.False(t, ok)
}
