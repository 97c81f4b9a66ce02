// Package kgrag provides the knowledge graph augmented retrieval application.
package kgrag

import (
	"github.com/kart-io/kgrag/pkg/infra/app"
)

const (
	appName        = "kgrag"
	appDescription = `kgrag: knowledge graph augmented hybrid retrieval

Answers questions over a corpus of research papers by combining:
  - Vector similarity search over pre-computed chunk embeddings (FAISS or Milvus)
  - Paper discovery through a knowledge graph of papers and entities (Neo4j)
  - Cited answer synthesis with an LLM

Running kgrag without a sub-command serves the HTTP API.`
)

// NewApp creates a new application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithShortDescription("Knowledge graph augmented hybrid retrieval service"),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			return Run(opts)
		}),
		app.WithCommands(
			newServeCommand(opts),
			newIngestCommand(opts),
			newConstraintsCommand(opts),
			newQueryCommand(opts),
			newMilvusSyncCommand(opts),
		),
	)
}
