package kgrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/kart-io/logger"
	"github.com/spf13/cobra"

	"github.com/kart-io/kgrag/internal/kgrag/biz"
	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/component/milvus"
	neo4jclient "github.com/kart-io/kgrag/pkg/component/neo4j"
)

// errNeo4jDisabled is returned by commands that write to the graph.
var errNeo4jDisabled = errors.New("neo4j is disabled, enable it with --neo4j.enabled")

func newServeCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return Run(opts)
		},
	}
}

func newIngestCommand(opts *Options) *cobra.Command {
	var constraints bool
	cmd := &cobra.Command{
		Use:   "ingest <file-or-dir>...",
		Short: "Load knowledge graph JSON documents into Neo4j",
		Long: `Load knowledge graph documents into Neo4j.

Each argument is a JSON file holding one document or an array of documents,
or a directory whose *.json files are loaded in name order. Documents are
validated before anything is written, and writes are idempotent.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := biz.ReadDocumentFiles(args)
			if err != nil {
				return err
			}
			return withIngester(opts, func(ctx context.Context, ing *biz.Ingester) error {
				if constraints {
					if err := ing.EnsureConstraints(ctx); err != nil {
						return err
					}
				}
				report, err := ing.Ingest(ctx, docs)
				if err != nil {
					return err
				}
				printIngestReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&constraints, "ensure-constraints", true, "Create uniqueness constraints before writing.")
	return cmd
}

func newConstraintsCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "constraints",
		Short: "Create the Neo4j uniqueness constraints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withIngester(opts, func(ctx context.Context, ing *biz.Ingester) error {
				if err := ing.EnsureConstraints(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("constraints ensured"))
				return nil
			})
		},
	}
}

// withIngester connects Neo4j for a one-shot graph write.
func withIngester(opts *Options, fn func(context.Context, *biz.Ingester) error) error {
	if err := initLogger(opts); err != nil {
		return err
	}
	if !opts.Neo4j.Enabled {
		return errNeo4jDisabled
	}

	ctx := context.Background()
	client, err := neo4jclient.New(ctx, opts.Neo4j)
	if err != nil {
		return err
	}
	graph := store.NewNeo4jGraph(client)
	defer func() { _ = graph.Close(context.Background()) }()

	return fn(ctx, biz.NewIngester(graph, metrics.New()))
}

func newQueryCommand(opts *Options) *cobra.Command {
	var (
		topK    int
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a single question and print the cited result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogger(opts); err != nil {
				return err
			}
			ctx := context.Background()
			c, err := newComponents(ctx, opts, true)
			if err != nil {
				return err
			}
			defer c.close()

			resp := c.service.ProcessQuery(ctx, strings.Join(args, " "), topK)
			printQueryResponse(cmd.OutOrStdout(), resp, verbose)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve, 0 uses retrieval.top-k.")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Print every retrieved chunk.")
	return cmd
}

func newMilvusSyncCommand(opts *Options) *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "milvus-sync",
		Short: "Copy the FAISS flat index into the Milvus collection",
		Long: `Copy the FAISS flat index and chunk paper ids into the Milvus collection
named by --milvus.collection, so the service can run with
--artifact.backend=milvus.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := initLogger(opts); err != nil {
				return err
			}
			idx, err := store.LoadFlatIndex(opts.Artifact.IndexPath())
			if err != nil {
				return err
			}
			chunks, err := store.LoadChunkStore(opts.Artifact.MetadataPath(), opts.Artifact.MappingPath())
			if err != nil {
				return err
			}

			ctx := context.Background()
			client, err := milvus.New(ctx, opts.Milvus)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close(context.Background()) }()

			n, err := store.SyncFlatIndex(ctx, client, idx, chunks, batchSize)
			if err != nil {
				return err
			}
			logger.Infow("milvus sync finished", "collection", client.Collection(), "rows", n)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d vectors into %s\n", color.GreenString("synced"), n, client.Collection())
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 1000, "Rows inserted per request.")
	return cmd
}

func printIngestReport(w io.Writer, r *model.IngestReport) {
	fmt.Fprintf(w, "%s batch %s\n", color.GreenString("ingested"), r.BatchID)
	fmt.Fprintf(w, "  documents: %d\n  entities:  %d\n  relations: %d\n", r.Documents, r.Entities, r.Relations)
}

func printQueryResponse(w io.Writer, resp *model.QueryResponse, verbose bool) {
	bold := color.New(color.Bold)
	if resp.Error != "" {
		fmt.Fprintln(w, color.RedString("error: %s", resp.Error))
	}

	bold.Fprintln(w, "Answer")
	fmt.Fprintln(w, resp.Answer)

	if len(resp.Citations) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Citations")
		for i, c := range resp.Citations {
			fmt.Fprintf(w, "  %2d. %s p.%d %s\n", i+1, color.CyanString(c.PaperID), c.PageNum, color.HiBlackString("%.3f", c.Score))
		}
	}

	if resp.DiversityMetrics != nil {
		d := resp.DiversityMetrics
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %d unique papers, %d graph boosted chunks (%s)\n",
			color.YellowString("diversity:"), d.UniquePapers, d.Neo4jBoostedChunks, d.SearchMethod)
	}

	if verbose {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Retrieved chunks")
		for _, c := range resp.RetrievedChunks {
			src := color.BlueString(string(c.Source))
			if c.Source == model.SourceDiversity {
				src = color.MagentaString(string(c.Source))
			}
			fmt.Fprintf(w, "  [%s:%d] rank=%d score=%.3f %s\n", c.PaperID, c.PageNum, c.PaperRank, c.Score, src)
		}
	}
}
