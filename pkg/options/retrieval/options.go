// Package retrieval provides the hybrid retrieval tuning options.
package retrieval

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/kgrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// DefaultVocabulary is the fixed domain vocabulary recognised in queries.
var DefaultVocabulary = []string{
	"gene", "protein", "cell", "DNA", "RNA", "mitochondria", "immune",
	"microgravity", "space", "mission", "experiment", "assay", "organism", "outcome",
}

// Options tunes the hybrid retriever.
type Options struct {
	// TopK is used when a query does not specify one.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// MaxTopK bounds the top-k a caller may request.
	MaxTopK int `json:"max-top-k" mapstructure:"max-top-k"`

	// VectorOversample multiplies top-k for the vector candidate fetch.
	VectorOversample int `json:"vector-oversample" mapstructure:"vector-oversample"`

	// PoolFactor caps the candidate pool at floor(PoolFactor * top-k) while
	// graph diversity chunks are appended.
	PoolFactor float64 `json:"pool-factor" mapstructure:"pool-factor"`

	// DiversityScore is the fixed score given to graph diversity chunks.
	DiversityScore float32 `json:"diversity-score" mapstructure:"diversity-score"`

	// ChunksPerPaper is how many leading chunks of a graph-found paper are considered.
	ChunksPerPaper int `json:"chunks-per-paper" mapstructure:"chunks-per-paper"`

	// GraphTimeout bounds each graph traversal.
	GraphTimeout time.Duration `json:"graph-timeout" mapstructure:"graph-timeout"`

	// SynthesizerTimeout bounds answer generation.
	SynthesizerTimeout time.Duration `json:"synthesizer-timeout" mapstructure:"synthesizer-timeout"`

	// Vocabulary overrides DefaultVocabulary.
	Vocabulary []string `json:"vocabulary" mapstructure:"vocabulary"`

	// WorkerPoolSize is the capacity of the per-query fan-out pool.
	WorkerPoolSize int `json:"worker-pool-size" mapstructure:"worker-pool-size"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		TopK:               5,
		MaxTopK:            50,
		VectorOversample:   2,
		PoolFactor:         1.5,
		DiversityScore:     0.5,
		ChunksPerPaper:     2,
		GraphTimeout:       5 * time.Second,
		SynthesizerTimeout: 30 * time.Second,
		Vocabulary:         append([]string(nil), DefaultVocabulary...),
		WorkerPoolSize:     256,
	}
}

// AddFlags adds flags for retrieval options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "retrieval."
	fs.IntVar(&o.TopK, p+"top-k", o.TopK, "Default number of chunks returned per query.")
	fs.IntVar(&o.MaxTopK, p+"max-top-k", o.MaxTopK, "Largest top-k a caller may request.")
	fs.IntVar(&o.VectorOversample, p+"vector-oversample", o.VectorOversample, "Vector candidates fetched per requested chunk.")
	fs.Float64Var(&o.PoolFactor, p+"pool-factor", o.PoolFactor, "Candidate pool size as a multiple of top-k.")
	fs.Float32Var(&o.DiversityScore, p+"diversity-score", o.DiversityScore, "Score assigned to graph diversity chunks.")
	fs.IntVar(&o.ChunksPerPaper, p+"chunks-per-paper", o.ChunksPerPaper, "Leading chunks considered per graph-found paper.")
	fs.DurationVar(&o.GraphTimeout, p+"graph-timeout", o.GraphTimeout, "Timeout for each graph traversal.")
	fs.DurationVar(&o.SynthesizerTimeout, p+"synthesizer-timeout", o.SynthesizerTimeout, "Timeout for answer generation.")
	fs.StringSliceVar(&o.Vocabulary, p+"vocabulary", o.Vocabulary, "Domain terms recognised in queries.")
	fs.IntVar(&o.WorkerPoolSize, p+"worker-pool-size", o.WorkerPoolSize, "Capacity of the query fan-out worker pool.")
}

// Validate validates the retrieval options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.TopK < 1 {
		errs = append(errs, fmt.Errorf("retrieval top-k must be at least 1"))
	}
	if o.MaxTopK < o.TopK {
		errs = append(errs, fmt.Errorf("retrieval max-top-k must not be below top-k"))
	}
	if o.VectorOversample < 1 {
		errs = append(errs, fmt.Errorf("retrieval vector-oversample must be at least 1"))
	}
	if o.PoolFactor < 1 {
		errs = append(errs, fmt.Errorf("retrieval pool-factor must be at least 1"))
	}
	if o.ChunksPerPaper < 1 {
		errs = append(errs, fmt.Errorf("retrieval chunks-per-paper must be at least 1"))
	}
	if o.GraphTimeout <= 0 || o.SynthesizerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("retrieval timeouts must be positive"))
	}
	return errs
}

// Complete restores the default vocabulary when none is configured.
func (o *Options) Complete() error {
	if len(o.Vocabulary) == 0 {
		o.Vocabulary = append([]string(nil), DefaultVocabulary...)
	}
	return nil
}
