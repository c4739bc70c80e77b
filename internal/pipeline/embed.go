package pipeline

import (
	"context"
	"errors"
	"fmt"

	"archivist/internal/chunker"
	"archivist/internal/library"
	"archivist/internal/provider"
	"archivist/internal/vecmath"
	"archivist/internal/vectorstore"
)

// EmbedResult 向量化结果 / EmbedResult reports one embedding run
type EmbedResult struct {
	SessionID     string `json:"session_id"`
	EmbeddingPath string `json:"embedding_path"`
	Chunks        int    `json:"chunks"`
	Embedded      int    `json:"embedded_chunks"`
	Dimensions    int    `json:"dimensions"`
}

// Embed chunks the session transcript, embeds every chunk, replaces the
// session's stored chunks and full-text entry, and writes embedding.json
// with the mean vector. Chunks whose embedding fails are skipped. When none
// embeds, the whole text is embedded instead; no vector at all fails the
// stage with provider.ErrNoEmbedding and leaves every store untouched.
func (r *Runner) Embed(ctx context.Context, id string) (EmbedResult, error) {
	cfg := r.settings.Current()
	var res EmbedResult
	err := r.withSession(ctx, id, StageEmbed, func(dir string, meta library.Meta) error {
		st, err := r.loadText(dir, meta)
		if err != nil {
			return err
		}

		ch := r.chunker(cfg)
		var chunks []chunker.Chunk
		if st.structured != nil {
			chunks = ch.ChunkTranscript(*st.structured)
		} else {
			chunks = ch.ChunkPlaintext(st.flat)
		}

		records := make([]vectorstore.Record, 0, len(chunks))
		vectors := make([][]float32, 0, len(chunks))
		for _, c := range chunks {
			vec, err := r.embedder.Embed(ctx, c.Text, cfg.EmbedModelDoc)
			if err == nil && len(vec) == 0 {
				err = provider.ErrNoEmbedding
			}
			if err != nil {
				if isCancel(err) {
					return err
				}
				r.logger.Warn("chunk embedding failed", "session_id", id, "chunk", c.ID, "err", err)
				continue
			}
			records = append(records, vectorstore.Record{
				ChunkID:   c.ID,
				Start:     c.Start,
				End:       c.End,
				Speakers:  c.Speakers,
				Text:      c.Text,
				Embedding: vec,
			})
			vectors = append(vectors, vec)
		}

		aggregate := vecmath.Mean(vectors)
		if len(aggregate) == 0 {
			vec, err := r.embedder.Embed(ctx, st.flat, cfg.EmbedModelDoc)
			if err != nil && !errors.Is(err, provider.ErrNoEmbedding) {
				return err
			}
			if len(vec) == 0 {
				return provider.ErrNoEmbedding
			}
			aggregate = vec
		}

		path, err := library.ResolveAsset(dir, embeddingName)
		if err != nil {
			return err
		}
		if err := library.WriteAggregate(path, library.AggregateEmbedding{Embedding: aggregate, ChunkCount: len(records)}); err != nil {
			return err
		}
		meta.Assets.EmbeddingJSON = embeddingName
		if err := r.lib.WriteMeta(dir, meta); err != nil {
			return err
		}
		if err := r.vectors.ReplaceChunks(ctx, id, records); err != nil {
			return err
		}
		if err := r.indexText(ctx, meta, st); err != nil {
			return err
		}
		if _, err := r.engine.IndexSession(dir); err != nil {
			return fmt.Errorf("index session: %w", err)
		}

		res = EmbedResult{
			SessionID:     id,
			EmbeddingPath: r.rel(path),
			Chunks:        len(chunks),
			Embedded:      len(records),
			Dimensions:    len(aggregate),
		}
		r.logger.Info("session embedded", "session_id", id, "chunks", res.Chunks, "embedded", res.Embedded)
		return nil
	})
	return res, err
}
