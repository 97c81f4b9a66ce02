package store

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// FAISS 扁平索引的 fourcc。
const (
	fourccFlatIP = "IxFI"
	fourccFlatL2 = "IxF2"
)

// Metric 是索引的度量方式，取值与 FAISS MetricType 一致。
type Metric int32

const (
	MetricInnerProduct Metric = 0
	MetricL2           Metric = 1
)

// FlatIndex 是从 FAISS IndexFlatIP / IndexFlatL2 文件加载的精确检索索引。
type FlatIndex struct {
	dim    int
	ntotal int
	metric Metric
	data   []float32
}

var _ VectorIndex = (*FlatIndex)(nil)

// LoadFlatIndex 从文件读取 FAISS 扁平索引。
func LoadFlatIndex(path string) (*FlatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open faiss index: %w", err)
	}
	defer f.Close()

	idx, err := ReadFlatIndex(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read faiss index %s: %w", path, err)
	}
	return idx, nil
}

// ReadFlatIndex 解析 faiss.write_index 写出的扁平索引。
func ReadFlatIndex(r io.Reader) (*FlatIndex, error) {
	var fourcc [4]byte
	if _, err := io.ReadFull(r, fourcc[:]); err != nil {
		return nil, fmt.Errorf("read fourcc: %w", err)
	}
	switch string(fourcc[:]) {
	case fourccFlatIP, fourccFlatL2:
	default:
		return nil, fmt.Errorf("unsupported index type %q, only flat indexes are supported", fourcc[:])
	}

	var hdr struct {
		D         int32
		NTotal    int64
		Dummy1    int64
		Dummy2    int64
		IsTrained uint8
		Metric    int32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if hdr.D <= 0 || hdr.NTotal < 0 {
		return nil, fmt.Errorf("invalid header d=%d ntotal=%d", hdr.D, hdr.NTotal)
	}
	if hdr.Metric > 1 {
		var metricArg float32
		if err := binary.Read(r, binary.LittleEndian, &metricArg); err != nil {
			return nil, fmt.Errorf("read metric arg: %w", err)
		}
	}
	if hdr.Metric != int32(MetricInnerProduct) && hdr.Metric != int32(MetricL2) {
		return nil, fmt.Errorf("unsupported metric type %d", hdr.Metric)
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read vector count: %w", err)
	}
	want := uint64(hdr.D) * uint64(hdr.NTotal)
	if count != want {
		return nil, fmt.Errorf("vector payload has %d floats, header implies %d", count, want)
	}

	data := make([]float32, count)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}

	return &FlatIndex{
		dim:    int(hdr.D),
		ntotal: int(hdr.NTotal),
		metric: Metric(hdr.Metric),
		data:   data,
	}, nil
}

// WriteFlatIndex 以 faiss.write_index 的布局写出扁平索引。
func WriteFlatIndex(w io.Writer, metric Metric, dim int, vectors [][]float32) error {
	fourcc := fourccFlatIP
	if metric == MetricL2 {
		fourcc = fourccFlatL2
	}
	if _, err := io.WriteString(w, fourcc); err != nil {
		return err
	}

	hdr := struct {
		D         int32
		NTotal    int64
		Dummy1    int64
		Dummy2    int64
		IsTrained uint8
		Metric    int32
	}{int32(dim), int64(len(vectors)), 1 << 20, 1 << 20, 1, int32(metric)}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(dim*len(vectors))); err != nil {
		return err
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

// Search 精确检索。内积索引返回内积；L2 索引返回 1 - d²/2，
// 对单位向量等价于余弦相似度。
func (x *FlatIndex) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if len(vec) != x.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vec), x.dim)
	}
	if k <= 0 || x.ntotal == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits := make([]Hit, x.ntotal)
	for i := 0; i < x.ntotal; i++ {
		row := x.data[i*x.dim : (i+1)*x.dim]
		hits[i] = Hit{Offset: int64(i), Score: x.score(vec, row)}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Score > hits[b].Score
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

func (x *FlatIndex) score(q, row []float32) float32 {
	if x.metric == MetricL2 {
		var d float32
		for i := range q {
			diff := q[i] - row[i]
			d += diff * diff
		}
		return 1 - d/2
	}
	var dot float32
	for i := range q {
		dot += q[i] * row[i]
	}
	return dot
}

// Vector 返回偏移 i 处存储的向量。
func (x *FlatIndex) Vector(i int) ([]float32, bool) {
	if i < 0 || i >= x.ntotal {
		return nil, false
	}
	return x.data[i*x.dim : (i+1)*x.dim], true
}

// Metric 返回索引度量方式。
func (x *FlatIndex) Metric() Metric { return x.metric }

// Size 返回向量数量。
func (x *FlatIndex) Size() int { return x.ntotal }

// Dimension 返回向量维度。
func (x *FlatIndex) Dimension() int { return x.dim }

// Close 无需释放资源。
func (x *FlatIndex) Close() error { return nil }

// Normalize 原地对向量做 L2 归一化，零向量保持不变。
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
