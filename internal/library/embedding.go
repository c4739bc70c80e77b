package library

import "archivist/internal/fsutil"

// AggregateEmbedding 会话级聚合向量（embedding.json）
// AggregateEmbedding is the content of a session's embedding.json
type AggregateEmbedding struct {
	Embedding  []float32 `json:"embedding"`
	ChunkCount int       `json:"chunk_count"`
}

// ReadAggregate loads embedding.json. A file without a vector yields nil.
func ReadAggregate(path string) ([]float32, error) {
	var agg AggregateEmbedding
	if err := fsutil.ReadJSON(path, &agg); err != nil {
		return nil, err
	}
	if len(agg.Embedding) == 0 {
		return nil, nil
	}
	return agg.Embedding, nil
}

// WriteAggregate 原子写入 embedding.json / WriteAggregate atomically writes embedding.json
func WriteAggregate(path string, agg AggregateEmbedding) error {
	return fsutil.WriteJSONAtomic(path, agg)
}
