package reconcile

import (
	"context"
	"fmt"

	"archivist/internal/library"
	"archivist/internal/storage"
	"archivist/internal/vecmath"
)

const DefaultSuggestionThreshold = 0.78

// SuggestStats 文件夹建议统计
// SuggestStats summarizes one folder-suggestion run
type SuggestStats struct {
	Suggested int `json:"suggested"`
	Skipped   int `json:"skipped"`
}

type centroid struct {
	folderID int64
	vec      []float32
}

// SuggestFolders recomputes every normal folder's centroid from its sessions'
// aggregate embeddings, then for each Inbox session records the most similar
// folder when the score reaches threshold and clears the suggestion
// otherwise. Inbox sessions without an embedding are skipped.
func (e *Engine) SuggestFolders(ctx context.Context, threshold float64) (SuggestStats, error) {
	centroids, err := e.centroids(ctx)
	if err != nil {
		return SuggestStats{}, err
	}
	inbox, err := e.index.FolderByDir(storage.SystemInbox)
	if err != nil {
		return SuggestStats{}, err
	}
	sessions, err := e.index.ListSessions(&inbox.ID)
	if err != nil {
		return SuggestStats{}, err
	}

	var stats SuggestStats
	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		vec := e.sessionVector(sess)
		if vec == nil {
			stats.Skipped++
			continue
		}

		var bestID int64
		best := 0.0
		for _, c := range centroids {
			if score := vecmath.Cosine(vec, c.vec); score > best {
				best, bestID = score, c.folderID
			}
		}
		if bestID != 0 && best >= threshold {
			score := best
			id := bestID
			if _, err := e.index.SetSuggestedFolder(sess.SessionID, &id, &score,
				fmt.Sprintf("cosine≈%.3f vs folder centroid", score)); err != nil {
				return stats, err
			}
			stats.Suggested++
			continue
		}
		if _, err := e.index.SetSuggestedFolder(sess.SessionID, nil, nil, ""); err != nil {
			return stats, err
		}
		stats.Skipped++
	}
	return stats, nil
}

func (e *Engine) centroids(ctx context.Context) ([]centroid, error) {
	folders, err := e.index.ListFolders()
	if err != nil {
		return nil, err
	}
	var out []centroid
	for _, f := range folders {
		if f.IsSystem() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sessions, err := e.index.ListSessions(&f.ID)
		if err != nil {
			return nil, err
		}
		var vecs [][]float32
		for _, sess := range sessions {
			if v := e.sessionVector(sess); v != nil {
				vecs = append(vecs, v)
			}
		}
		if len(vecs) > 0 {
			out = append(out, centroid{folderID: f.ID, vec: vecmath.Mean(vecs)})
		}
	}
	return out, nil
}

func (e *Engine) sessionVector(sess storage.Session) []float32 {
	if sess.MissingOnDisk || sess.EmbeddingPath == "" {
		return nil
	}
	vec, err := library.ReadAggregate(e.lib.Abs(sess.EmbeddingPath))
	if err != nil {
		e.logger.Warn("unreadable aggregate embedding", "path", sess.EmbeddingPath, "err", err)
		return nil
	}
	return vec
}
