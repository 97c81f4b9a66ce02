package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/kgrag/pkg/app/cliflag"
	neo4jopts "github.com/kart-io/kgrag/pkg/options/neo4j"
	retrievalopts "github.com/kart-io/kgrag/pkg/options/retrieval"
)

type testOptions struct {
	Neo4j     *neo4jopts.Options     `mapstructure:"neo4j"`
	Retrieval *retrievalopts.Options `mapstructure:"retrieval"`
}

func (o *testOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.Neo4j.AddFlags(fss.FlagSet("neo4j"))
	o.Retrieval.AddFlags(fss.FlagSet("retrieval"))
	return fss
}

func (o *testOptions) Complete() error { return nil }

func (o *testOptions) Validate() error {
	var errs []error
	errs = append(errs, o.Neo4j.Validate()...)
	errs = append(errs, o.Retrieval.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func TestApp_ConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "kgrag-test.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
neo4j:
  uri: ${TEST_GRAPH_URI}
retrieval:
  top-k: 7
  graph-timeout: 2s
`), 0o600))

	t.Setenv("TEST_GRAPH_URI", "bolt://graph:7687")
	t.Setenv("KGRAG_TEST_RETRIEVAL_MAX_TOP_K", "70")

	opts := &testOptions{Neo4j: neo4jopts.NewOptions(), Retrieval: retrievalopts.NewOptions()}
	ran := false
	a := NewApp(
		WithName("kgrag-test"),
		WithNoVersion(),
		WithOptions(opts),
		WithRunFunc(func() error { ran = true; return nil }),
	)
	a.Command().SetArgs([]string{"-c", cfg, "--retrieval.chunks-per-paper=3"})
	require.NoError(t, a.Command().Execute())

	assert.True(t, ran)
	assert.Equal(t, "bolt://graph:7687", opts.Neo4j.URI)
	assert.Equal(t, 7, opts.Retrieval.TopK)
	assert.Equal(t, 70, opts.Retrieval.MaxTopK)
	assert.Equal(t, 3, opts.Retrieval.ChunksPerPaper)
	assert.Equal(t, "2s", opts.Retrieval.GraphTimeout.String())
	assert.Equal(t, float32(0.5), opts.Retrieval.DiversityScore)
}

func TestApp_ValidationFails(t *testing.T) {
	opts := &testOptions{Neo4j: neo4jopts.NewOptions(), Retrieval: retrievalopts.NewOptions()}
	a := NewApp(
		WithName("kgrag-test"),
		WithNoVersion(),
		WithNoConfig(),
		WithOptions(opts),
		WithRunFunc(func() error { return nil }),
	)
	opts.Retrieval.TopK = 0
	a.Command().SetArgs([]string{})
	assert.Error(t, a.Command().Execute())
}
