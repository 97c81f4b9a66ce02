// Package milvus wraps the Milvus SDK client for the chunk embedding collection.
//
// The collection stores one row per chunk embedding. The primary key is the
// embedding_index, i.e. the row offset in the chunk metadata, so search
// results map straight back to the chunk store.
package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	milvusopts "github.com/kart-io/kgrag/pkg/options/milvus"
)

// Field names of the chunk embedding collection.
const (
	FieldID        = "embedding_index"
	FieldEmbedding = "embedding"
	FieldPaperID   = "paper_id"
)

// Client wraps the Milvus SDK client.
type Client struct {
	client     *milvusclient.Client
	collection string
}

// New creates a new Milvus client.
func New(ctx context.Context, opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &Client{client: c, collection: opts.Collection}, nil
}

// Close closes the Milvus client connection.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// Collection returns the collection name.
func (c *Client) Collection() string {
	return c.collection
}

// EnsureCollection creates the collection with a COSINE index if it does not
// exist yet, and loads it into memory.
func (c *Client) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(c.collection))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(c.collection).
			WithDescription("chunk embeddings keyed by embedding_index").
			WithField(entity.NewField().
				WithName(FieldID).
				WithDataType(entity.FieldTypeInt64).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(FieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(dim))).
			WithField(entity.NewField().
				WithName(FieldPaperID).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(256))

		if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(c.collection, schema)); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx := index.NewIvfFlatIndex(entity.COSINE, 128)
		task, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(c.collection, FieldEmbedding, idx))
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("failed to wait for index creation: %w", err)
		}
	}

	return c.load(ctx)
}

func (c *Client) load(ctx context.Context) error {
	task, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(c.collection))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	return nil
}

// Insert writes a batch of embeddings and flushes so they are searchable.
func (c *Client) Insert(ctx context.Context, offsets []int64, paperIDs []string, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	if len(offsets) != len(vectors) || len(paperIDs) != len(vectors) {
		return fmt.Errorf("milvus insert: column lengths differ")
	}

	_, err := c.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(c.collection,
		column.NewColumnInt64(FieldID, offsets),
		column.NewColumnFloatVector(FieldEmbedding, len(vectors[0]), vectors),
		column.NewColumnVarChar(FieldPaperID, paperIDs),
	))
	if err != nil {
		return fmt.Errorf("failed to insert data: %w", err)
	}

	task, err := c.client.Flush(ctx, milvusclient.NewFlushOption(c.collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}
	return nil
}

// Hit is one search result: the embedding_index and its cosine score.
type Hit struct {
	Offset int64
	Score  float32
}

// Search returns the topK nearest embeddings to vector.
func (c *Client) Search(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	results, err := c.client.Search(ctx, milvusclient.NewSearchOption(
		c.collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(FieldEmbedding).
		WithSearchParam("nprobe", "16"))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	rs := results[0]
	ids, ok := rs.IDs.(*column.ColumnInt64)
	if !ok {
		return nil, fmt.Errorf("unexpected id column type %T", rs.IDs)
	}

	hits := make([]Hit, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		hits = append(hits, Hit{Offset: ids.Data()[i], Score: rs.Scores[i]})
	}
	return hits, nil
}

// Count returns the number of rows in the collection.
func (c *Client) Count(ctx context.Context) (int64, error) {
	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(c.collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}
	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}

// Dimension returns the vector dimension declared in the collection schema.
func (c *Client) Dimension(ctx context.Context) (int, error) {
	coll, err := c.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(c.collection))
	if err != nil {
		return 0, fmt.Errorf("failed to describe collection: %w", err)
	}
	for _, f := range coll.Schema.Fields {
		if f.Name == FieldEmbedding {
			return strconv.Atoi(f.TypeParams["dim"])
		}
	}
	return 0, fmt.Errorf("collection %s has no %s field", c.collection, FieldEmbedding)
}

// Drop drops the collection.
func (c *Client) Drop(ctx context.Context) error {
	if err := c.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(c.collection)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}
