package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/kgrag/internal/model"
)

func TestBuildUpsertStatements(t *testing.T) {
	doc := sampleDocs()[0]
	stmts := buildUpsertStatements(doc)

	// paper, three labels, one relation group, three mention links
	require.Len(t, stmts, 8)
	assert.Contains(t, stmts[0].cypher, "MERGE (p:Paper {paper_id: $paper_id})")
	assert.Equal(t, "Bone loss in microgravity", stmts[0].params["title"])

	var nodeStmts, relStmts, mentionStmts int
	for _, st := range stmts {
		switch {
		case strings.Contains(st.cypher, "MERGE (n:"):
			nodeStmts++
		case strings.Contains(st.cypher, "MERGE (a)-[rel:PERFORMED_ON]->(b)"):
			relStmts++
			assert.Contains(t, st.cypher, "MATCH (a:ExperimentType {name: r.from_key})")
			assert.Contains(t, st.cypher, "MATCH (b:Organism {name: r.to_key})")
			rows := st.params["rows"].([]map[string]any)
			require.Len(t, rows, 1)
			assert.Equal(t, "P1", rows[0]["paper_id"])
		case strings.Contains(st.cypher, "MERGE (p)-[:MENTIONS]->(e)"):
			mentionStmts++
		}
	}
	assert.Equal(t, 3, nodeStmts)
	assert.Equal(t, 1, relStmts)
	assert.Equal(t, 3, mentionStmts)
}

func TestBuildUpsertStatements_PaperEntityKeyedByPaperID(t *testing.T) {
	stmts := buildUpsertStatements(&model.KGDocument{
		PaperID:  "P1",
		Entities: []model.Entity{{Type: model.LabelPaper, Name: "P7"}},
	})
	found := false
	for _, st := range stmts {
		if strings.Contains(st.cypher, "MERGE (n:Paper {paper_id: row.key})") {
			found = true
		}
	}
	assert.True(t, found)
	assert.Nil(t, stmts[0].params["title"])
}

func TestSanitizeProps(t *testing.T) {
	props := sanitizeProps(map[string]any{
		"page":   2,
		"name":   "x",
		"skip":   nil,
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"k": "v"},
		"mixed":  []any{"a", map[string]any{"k": 1}},
	})
	assert.Equal(t, 2, props["page"])
	assert.Equal(t, []any{"a", "b"}, props["tags"])
	assert.Equal(t, `{"k":"v"}`, props["nested"])
	assert.IsType(t, "", props["mixed"])
	_, ok := props["skip"]
	assert.False(t, ok)
}

func TestCypherTemplatesUseParameters(t *testing.T) {
	for _, q := range []string{findPapersByEntitiesCypher, findRelatedPapersCypher, searchNodesCypher} {
		assert.Contains(t, q, "$limit")
	}
	assert.Contains(t, findPapersByEntitiesCypher, "$terms")
	assert.Contains(t, findRelatedPapersCypher, "$paper_ids")
}
