// Package artifact provides options locating the offline index artifacts.
package artifact

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/kart-io/kgrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Index backends.
const (
	BackendFAISS  = "faiss"
	BackendMilvus = "milvus"
)

// Options locates the artifacts written by the ingestion job.
type Options struct {
	// DataDir holds the artifacts; relative file names resolve against it.
	DataDir string `json:"data-dir" mapstructure:"data-dir"`

	// IndexFile is the FAISS flat index.
	IndexFile string `json:"index-file" mapstructure:"index-file"`

	// MetadataFile is the chunk metadata JSON array.
	MetadataFile string `json:"metadata-file" mapstructure:"metadata-file"`

	// MappingFile is the optional paper → offsets map.
	MappingFile string `json:"mapping-file" mapstructure:"mapping-file"`

	// Backend selects the vector index implementation.
	Backend string `json:"backend" mapstructure:"backend"`

	// Watch reloads the artifacts when they change on disk.
	Watch bool `json:"watch" mapstructure:"watch"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		DataDir:      "data/processed",
		IndexFile:    "faiss_index.idx",
		MetadataFile: "chunk_metadata.json",
		MappingFile:  "paper_index_mapping.json",
		Backend:      BackendFAISS,
	}
}

// AddFlags adds flags for artifact options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "artifact."
	fs.StringVar(&o.DataDir, p+"data-dir", o.DataDir, "Directory holding the index artifacts.")
	fs.StringVar(&o.IndexFile, p+"index-file", o.IndexFile, "FAISS index file name.")
	fs.StringVar(&o.MetadataFile, p+"metadata-file", o.MetadataFile, "Chunk metadata file name.")
	fs.StringVar(&o.MappingFile, p+"mapping-file", o.MappingFile, "Paper to chunk offsets mapping file name.")
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Vector index backend (faiss, milvus).")
	fs.BoolVar(&o.Watch, p+"watch", o.Watch, "Reload artifacts when they change on disk.")
}

// Validate validates the artifact options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Backend != BackendFAISS && o.Backend != BackendMilvus {
		errs = append(errs, fmt.Errorf("artifact backend must be %q or %q, got %q", BackendFAISS, BackendMilvus, o.Backend))
	}
	if o.MetadataFile == "" {
		errs = append(errs, fmt.Errorf("artifact metadata-file is required"))
	}
	if o.Backend == BackendFAISS && o.IndexFile == "" {
		errs = append(errs, fmt.Errorf("artifact index-file is required for the faiss backend"))
	}
	return errs
}

// Path resolves name against DataDir unless it is absolute or empty.
func (o *Options) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(o.DataDir, name)
}

// IndexPath returns the resolved index file path.
func (o *Options) IndexPath() string { return o.Path(o.IndexFile) }

// MetadataPath returns the resolved metadata file path.
func (o *Options) MetadataPath() string { return o.Path(o.MetadataFile) }

// MappingPath returns the resolved mapping file path.
func (o *Options) MappingPath() string { return o.Path(o.MappingFile) }
