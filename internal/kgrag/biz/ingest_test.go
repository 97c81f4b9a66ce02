package biz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/internal/model"
)

const singleDoc = `{
  "paper_id": "P1",
  "title": "Bone loss in microgravity",
  "entities": [
    {"type": "Organism", "name": "Mus musculus"},
    {"type": "Outcome", "name": "bone density loss"}
  ],
  "relations": [
    {"from_name": "bone density loss", "from_type": "Outcome", "to_name": "Mus musculus", "to_type": "Organism", "type": "PERFORMED_ON"}
  ]
}`

const docArray = `[
  {"paper_id": "P2", "entities": [{"type": "Organism", "name": "Mus musculus"}], "relations": []},
  {"paper_id": "P3", "entities": [{"type": "Gene", "name": "Il6"}], "relations": []}
]`

func TestDecodeDocuments(t *testing.T) {
	docs, err := DecodeDocuments([]byte(singleDoc))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "P1", docs[0].PaperID)
	assert.Len(t, docs[0].Entities, 2)
	assert.Equal(t, model.RelPerformedOn, docs[0].Relations[0].Type)

	docs, err = DecodeDocuments([]byte("\n " + docArray))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = DecodeDocuments([]byte("  "))
	assert.Error(t, err)

	_, err = DecodeDocuments([]byte("{not json"))
	assert.Error(t, err)
}

func TestReadDocumentFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(docArray), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(singleDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	docs, err := ReadDocumentFiles([]string{dir})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "P1", docs[0].PaperID)
	assert.Equal(t, "P3", docs[2].PaperID)

	_, err = ReadDocumentFiles([]string{filepath.Join(dir, "missing.json")})
	assert.Error(t, err)
}

func TestIngester_Ingest(t *testing.T) {
	docs, err := DecodeDocuments([]byte(docArray))
	require.NoError(t, err)
	single, err := DecodeDocuments([]byte(singleDoc))
	require.NoError(t, err)
	docs = append(single, docs...)

	graph := store.NewMemoryGraph()
	m := metrics.New()
	ing := NewIngester(graph, m)

	report, err := ing.Ingest(context.Background(), docs)
	require.NoError(t, err)
	assert.NotEmpty(t, report.BatchID)
	assert.Equal(t, 3, report.Documents)
	assert.Equal(t, 4, report.Entities)
	assert.Equal(t, 1, report.Relations)

	related, err := graph.FindRelatedPapers(context.Background(), []string{"P1"})
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "P2", related[0].PaperID)

	again, err := ing.Ingest(context.Background(), docs)
	require.NoError(t, err)
	assert.NotEqual(t, report.BatchID, again.BatchID)

	ingest, ok := m.Stats()["ingest"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 6, ingest["documents"])
}

func TestIngester_RejectsInvalidBatch(t *testing.T) {
	graph := store.NewMemoryGraph()
	ing := NewIngester(graph, nil)

	docs := []*model.KGDocument{
		{PaperID: "P1", Entities: []model.Entity{{Type: model.LabelOrganism, Name: "Mus musculus"}}},
		{PaperID: "P2", Entities: []model.Entity{{Type: "Spaceship", Name: "ISS"}}},
	}

	_, err := ing.Ingest(context.Background(), docs)
	require.ErrorIs(t, err, ErrInvalidDocument)
	assert.ErrorIs(t, err, store.ErrInvalidLabel)

	nodes, err := graph.SearchNodes(context.Background(), "mus", 10)
	require.NoError(t, err)
	assert.Empty(t, nodes, "nothing is written when any document is invalid")
}

func TestIngester_NoGraph(t *testing.T) {
	ing := NewIngester(nil, nil)
	_, err := ing.Ingest(context.Background(), nil)
	assert.ErrorIs(t, err, ErrGraphNotConfigured)
	assert.ErrorIs(t, ing.EnsureConstraints(context.Background()), ErrGraphNotConfigured)
}
