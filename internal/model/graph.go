package model

import "regexp"

// Label is a node label allowed in the knowledge graph.
type Label string

const (
	LabelOrganism       Label = "Organism"
	LabelGene           Label = "Gene"
	LabelMission        Label = "Mission"
	LabelExperimentType Label = "ExperimentType"
	LabelOutcome        Label = "Outcome"
	LabelAssay          Label = "Assay"
	LabelPaper          Label = "Paper"
	LabelDocument       Label = "Document"
)

// Labels lists every allowed label.
var Labels = []Label{
	LabelOrganism, LabelGene, LabelMission, LabelExperimentType,
	LabelOutcome, LabelAssay, LabelPaper, LabelDocument,
}

// Valid reports whether l is one of the allowed labels.
func (l Label) Valid() bool {
	for _, v := range Labels {
		if l == v {
			return true
		}
	}
	return false
}

// KeyProperty is the property that identifies a node within its label.
func (l Label) KeyProperty() string {
	switch l {
	case LabelPaper:
		return "paper_id"
	case LabelDocument:
		return "id"
	default:
		return "name"
	}
}

// RelType is a relationship type allowed in the knowledge graph.
type RelType string

const (
	RelStudies     RelType = "STUDIES"
	RelUses        RelType = "USES"
	RelReports     RelType = "REPORTS"
	RelPerformedOn RelType = "PERFORMED_ON"
	RelConductedIn RelType = "CONDUCTED_IN"
	RelStudiedIn   RelType = "STUDIED_IN"
	RelHasChunk    RelType = "HAS_CHUNK"
	RelInvolvedIn  RelType = "INVOLVED_IN"
	RelHasResult   RelType = "HAS_RESULT"
	RelMentions    RelType = "MENTIONS"
)

// RelTypes lists every allowed relationship type.
var RelTypes = []RelType{
	RelStudies, RelUses, RelReports, RelPerformedOn, RelConductedIn,
	RelStudiedIn, RelHasChunk, RelInvolvedIn, RelHasResult, RelMentions,
}

var relTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Valid reports whether t is well formed and one of the allowed types.
func (t RelType) Valid() bool {
	if !relTypePattern.MatchString(string(t)) {
		return false
	}
	for _, v := range RelTypes {
		if t == v {
			return true
		}
	}
	return false
}

// PaperHit is a paper found from query entities.
type PaperHit struct {
	PaperID           string   `json:"paper_id"`
	Title             string   `json:"title"`
	MatchedEntities   []string `json:"matched_entities"`
	RelationshipTypes []string `json:"relationship_types"`
}

// RelatedPaper is a paper linked to already retrieved papers.
type RelatedPaper struct {
	PaperID           string   `json:"paper_id"`
	Title             string   `json:"title"`
	SharedEntities    []string `json:"shared_entities"`
	RelationshipTypes []string `json:"relationship_types"`
}

// Entity is one node of an ingested knowledge graph document.
type Entity struct {
	Type  Label          `json:"type"`
	Name  string         `json:"name"`
	Props map[string]any `json:"props,omitempty"`
}

// Relation is one edge of an ingested knowledge graph document.
type Relation struct {
	FromName string         `json:"from_name"`
	FromType Label          `json:"from_type"`
	ToName   string         `json:"to_name"`
	ToType   Label          `json:"to_type"`
	Type     RelType        `json:"type"`
	Props    map[string]any `json:"props,omitempty"`
}

// KGDocument is the entities and relations extracted from one paper.
type KGDocument struct {
	PaperID   string     `json:"paper_id"`
	Title     string     `json:"title,omitempty"`
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// IngestReport summarizes one ingestion batch.
type IngestReport struct {
	BatchID   string `json:"batch_id"`
	Documents int    `json:"documents"`
	Entities  int    `json:"entities"`
	Relations int    `json:"relations"`
}

// Subgraph is a neighbourhood in cytoscape element format.
type Subgraph struct {
	Elements Elements `json:"elements"`
}

// Elements holds cytoscape nodes and edges.
type Elements struct {
	Nodes []Element `json:"nodes"`
	Edges []Element `json:"edges"`
}

// Element wraps the data map of one cytoscape node or edge.
type Element struct {
	Data map[string]any `json:"data"`
}

// NodeMatch is one keyword search hit.
type NodeMatch struct {
	Name        string   `json:"name"`
	Labels      []string `json:"labels"`
	Description string   `json:"description,omitempty"`
	Title       string   `json:"title,omitempty"`
}
