package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"

	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/utils/json"
)

// ChunkStore 是按 embedding_index 排列的只读分块集合。
type ChunkStore struct {
	chunks  []model.Chunk
	byPaper map[string][]int
}

// flexString 兼容 JSON 中的字符串或数字。
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}

type rawChunk struct {
	PaperID flexString `json:"paper_id"`
	ChunkID flexString `json:"chunk_id"`
	Text    string     `json:"text"`
	PageNum *float64   `json:"page_num"`
}

// NewChunkStore 由已解析的分块构建存储，EmbeddingIndex 重写为所在位置，
// 论文映射按分块顺序推导。
func NewChunkStore(chunks []model.Chunk) *ChunkStore {
	s := &ChunkStore{
		chunks:  make([]model.Chunk, len(chunks)),
		byPaper: make(map[string][]int),
	}
	for i, c := range chunks {
		c.EmbeddingIndex = i
		if c.ChunkID == "" {
			c.ChunkID = strconv.Itoa(i)
		}
		if c.PageNum == 0 {
			c.PageNum = 1
		}
		s.chunks[i] = c
		s.byPaper[c.PaperID] = append(s.byPaper[c.PaperID], i)
	}
	return s
}

// LoadChunkStore 读取 chunk_metadata.json 和可选的 paper_index_mapping.json。
func LoadChunkStore(metadataPath, mappingPath string) (*ChunkStore, error) {
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("read chunk metadata: %w", err)
	}

	var raws []rawChunk
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode chunk metadata %s: %w", metadataPath, err)
	}

	chunks := make([]model.Chunk, len(raws))
	for i, r := range raws {
		page := 1
		if r.PageNum != nil {
			page = int(*r.PageNum)
		}
		paperID := string(r.PaperID)
		if paperID == "" {
			paperID = "unknown"
		}
		chunks[i] = model.Chunk{
			PaperID: paperID,
			ChunkID: string(r.ChunkID),
			Text:    r.Text,
			PageNum: page,
		}
	}
	s := NewChunkStore(chunks)

	if mappingPath == "" {
		return s, nil
	}
	mapping, err := os.ReadFile(mappingPath)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read paper mapping: %w", err)
	}
	if err := s.applyMapping(mapping); err != nil {
		return nil, fmt.Errorf("decode paper mapping %s: %w", mappingPath, err)
	}
	return s, nil
}

// applyMapping 用映射文件替换推导出的论文映射，越界偏移被丢弃。
func (s *ChunkStore) applyMapping(data []byte) error {
	var raw map[string][]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	byPaper := make(map[string][]int, len(raw))
	for paperID, offsets := range raw {
		kept := make([]int, 0, len(offsets))
		for _, off := range offsets {
			if off >= 0 && off < len(s.chunks) {
				kept = append(kept, off)
			}
		}
		if len(kept) == 0 {
			continue
		}
		sort.Ints(kept)
		byPaper[paperID] = kept
	}
	s.byPaper = byPaper
	return nil
}

// At 返回偏移 i 处的分块，越界时 ok 为 false。
func (s *ChunkStore) At(i int) (model.Chunk, bool) {
	if s == nil || i < 0 || i >= len(s.chunks) {
		return model.Chunk{}, false
	}
	return s.chunks[i], true
}

// Len 返回分块数量。
func (s *ChunkStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.chunks)
}

// Papers 返回论文数量。
func (s *ChunkStore) Papers() int {
	if s == nil {
		return 0
	}
	return len(s.byPaper)
}

// PaperChunks 按原始顺序返回论文的全部分块。
func (s *ChunkStore) PaperChunks(paperID string) []model.Chunk {
	if s == nil {
		return nil
	}
	offsets := s.byPaper[paperID]
	out := make([]model.Chunk, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, s.chunks[off])
	}
	return out
}
