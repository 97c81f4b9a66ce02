package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabelValid(t *testing.T) {
	for _, l := range Labels {
		assert.True(t, l.Valid(), l)
	}
	assert.False(t, Label("Person").Valid())
	assert.False(t, Label("gene").Valid())
	assert.False(t, Label("Gene) DETACH DELETE n //").Valid())
}

func TestLabelKeyProperty(t *testing.T) {
	assert.Equal(t, "paper_id", LabelPaper.KeyProperty())
	assert.Equal(t, "id", LabelDocument.KeyProperty())
	assert.Equal(t, "name", LabelGene.KeyProperty())
}

func TestRelTypeValid(t *testing.T) {
	tests := []struct {
		in   RelType
		want bool
	}{
		{RelStudies, true},
		{RelMentions, true},
		{"studies", false},
		{"KNOWS", false},
		{"STUDIES]->(x) DELETE x", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Valid())
		})
	}
}
