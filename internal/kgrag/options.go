package kgrag

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/kgrag/pkg/app/cliflag"
	"github.com/kart-io/kgrag/pkg/infra/server"
	artifactopts "github.com/kart-io/kgrag/pkg/options/artifact"
	cacheopts "github.com/kart-io/kgrag/pkg/options/cache"
	historyopts "github.com/kart-io/kgrag/pkg/options/history"
	llmopts "github.com/kart-io/kgrag/pkg/options/llm"
	logopts "github.com/kart-io/kgrag/pkg/options/logger"
	milvusopts "github.com/kart-io/kgrag/pkg/options/milvus"
	neo4jopts "github.com/kart-io/kgrag/pkg/options/neo4j"
	retrievalopts "github.com/kart-io/kgrag/pkg/options/retrieval"
	tracingopts "github.com/kart-io/kgrag/pkg/options/tracing"
)

// Options contains all kgrag options.
type Options struct {
	// Server contains the HTTP server and middleware configuration.
	Server *server.Options `json:"server" mapstructure:"server"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Tracing contains OpenTelemetry configuration.
	Tracing *tracingopts.Options `json:"tracing" mapstructure:"tracing"`

	// Artifact locates the offline index artifacts.
	Artifact *artifactopts.Options `json:"artifact" mapstructure:"artifact"`

	// Milvus is used when the artifact backend is milvus.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// Neo4j contains the graph store configuration.
	Neo4j *neo4jopts.Options `json:"neo4j" mapstructure:"neo4j"`

	// Embedding contains the embedding provider configuration.
	Embedding *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// Chat contains the answer synthesis provider configuration.
	Chat *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// Retrieval tunes the hybrid retriever.
	Retrieval *retrievalopts.Options `json:"retrieval" mapstructure:"retrieval"`

	// Cache contains the Redis query and embedding cache configuration.
	Cache *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// History contains the query history store configuration.
	History *historyopts.Options `json:"history" mapstructure:"history"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Server:    server.NewOptions(),
		Log:       logopts.NewOptions(),
		Tracing:   tracingopts.NewOptions(),
		Artifact:  artifactopts.NewOptions(),
		Milvus:    milvusopts.NewOptions(),
		Neo4j:     neo4jopts.NewOptions(),
		Embedding: llmopts.NewEmbeddingOptions(),
		Chat:      llmopts.NewChatOptions(),
		Retrieval: retrievalopts.NewOptions(),
		Cache:     cacheopts.NewOptions(),
		History:   historyopts.NewOptions(),
	}
}

// Flags returns the flags grouped by component.
func (o *Options) Flags() (fss cliflag.NamedFlagSets) {
	o.Server.AddFlags(fss.FlagSet("server"))
	o.Log.AddFlags(fss.FlagSet("log"))
	o.Tracing.AddFlags(fss.FlagSet("tracing"))
	o.Artifact.AddFlags(fss.FlagSet("artifact"))
	o.Milvus.AddFlags(fss.FlagSet("milvus"))
	o.Neo4j.AddFlags(fss.FlagSet("neo4j"))
	o.Embedding.AddFlags(fss.FlagSet("embedding"), "embedding")
	o.Chat.AddFlags(fss.FlagSet("chat"), "chat")
	o.Retrieval.AddFlags(fss.FlagSet("retrieval"))
	o.Cache.AddFlags(fss.FlagSet("cache"))
	o.History.AddFlags(fss.FlagSet("history"))
	return fss
}

// Complete fills derived values after flags and config are applied.
func (o *Options) Complete() error {
	var errs []error
	for _, c := range []interface{ Complete() error }{
		o.Server, o.Log, o.Tracing, o.Neo4j, o.Embedding, o.Chat, o.Retrieval, o.Cache,
	} {
		if err := c.Complete(); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// Validate validates every option group and reports all failures together.
func (o *Options) Validate() error {
	var errs []error
	errs = append(errs, o.Server.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, o.Tracing.Validate()...)
	errs = append(errs, o.Artifact.Validate()...)
	if o.Artifact.Backend == artifactopts.BackendMilvus {
		errs = append(errs, o.Milvus.Validate()...)
	}
	errs = append(errs, o.Neo4j.Validate()...)
	errs = append(errs, prefixed("embedding", o.Embedding.Validate())...)
	errs = append(errs, prefixed("chat", o.Chat.Validate())...)
	errs = append(errs, o.Retrieval.Validate()...)
	errs = append(errs, o.Cache.Validate()...)
	errs = append(errs, o.History.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func prefixed(name string, errs []error) []error {
	out := make([]error, len(errs))
	for i, err := range errs {
		out[i] = fmt.Errorf("%s %w", name, err)
	}
	return out
}
