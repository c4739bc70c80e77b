// Package diarize partitions one session's transcript segments into speakers
// from voice embeddings.
//
// Clusters live in a per-session arena addressed by index. Nothing about a
// voice is kept once labelling is done; only the per-segment string labels
// are written out.
package diarize

import (
	"fmt"

	"archivist/internal/vecmath"
)

const (
	DefaultThreshold          = 0.75
	DefaultMinSegmentDuration = 0.5
)

// Cluster 一个说话人簇
// Cluster is one speaker group in the arena
type Cluster struct {
	Label    string
	Centroid []float32
	// Members are segment indices in assignment order.
	Members []int
}

// Clusterer is a greedy single-pass assigner. A segment joins the cluster
// whose centroid is most similar when that similarity exceeds the threshold;
// otherwise it opens a new cluster. Given the same inputs in the same order
// it yields the same assignments and centroids.
type Clusterer struct {
	threshold float64
	clusters  []Cluster
	// vectors holds member embeddings keyed by segment index, for centroid recompute.
	vectors map[int][]float32
}

func NewClusterer(threshold float64) *Clusterer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Clusterer{threshold: threshold, vectors: make(map[int][]float32)}
}

// Assign places segment seg with embedding emb and returns the cluster index
// and label it was given.
func (c *Clusterer) Assign(seg int, emb []float32) (int, string) {
	best := -1
	bestScore := 0.0
	for i := range c.clusters {
		score := vecmath.Cosine(emb, c.clusters[i].Centroid)
		if best == -1 || score > bestScore {
			best, bestScore = i, score
		}
	}

	vec := append([]float32(nil), emb...)
	c.vectors[seg] = vec

	if best >= 0 && bestScore > c.threshold {
		cl := &c.clusters[best]
		cl.Members = append(cl.Members, seg)
		members := make([][]float32, 0, len(cl.Members))
		for _, m := range cl.Members {
			members = append(members, c.vectors[m])
		}
		cl.Centroid = vecmath.Mean(members)
		return best, cl.Label
	}

	idx := len(c.clusters)
	c.clusters = append(c.clusters, Cluster{
		Label:    fmt.Sprintf("Speaker_%d", idx),
		Centroid: append([]float32(nil), vec...),
		Members:  []int{seg},
	})
	return idx, c.clusters[idx].Label
}

// Clusters returns a copy of the arena.
func (c *Clusterer) Clusters() []Cluster {
	out := make([]Cluster, len(c.clusters))
	for i, cl := range c.clusters {
		out[i] = Cluster{
			Label:    cl.Label,
			Centroid: append([]float32(nil), cl.Centroid...),
			Members:  append([]int(nil), cl.Members...),
		}
	}
	return out
}
