package vectorstore

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"archivist/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "vec.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestEncodeDecodeExact(t *testing.T) {
	in := []float32{0, 1, -1, 3.1415927, float32(math.SmallestNonzeroFloat32), math.MaxFloat32}
	out := DecodeVector(EncodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("len=%d, want %d", len(out), len(in))
	}
	for i := range in {
		if math.Float32bits(in[i]) != math.Float32bits(out[i]) {
			t.Fatalf("out[%d]=%v, want %v", i, out[i], in[i])
		}
	}
}

func TestSearchFindsExactVector(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	var recs []Record
	for i := 0; i < 8; i++ {
		recs = append(recs, Record{ChunkID: string(rune('a' + i)), Embedding: unit(8, i)})
	}
	if err := s.ReplaceChunks(ctx, "sess", recs); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	got, err := s.Search(ctx, unit(8, 5), 1, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "f" {
		t.Fatalf("got=%+v, want chunk f", got)
	}
	if math.Abs(got[0].Similarity-1) > 1e-6 {
		t.Fatalf("Similarity=%v, want 1", got[0].Similarity)
	}
}

func TestReplaceChunksDropsStale(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.ReplaceChunks(ctx, "a", []Record{{ChunkID: "0000", Embedding: unit(2, 0)}, {ChunkID: "0001", Embedding: unit(2, 1)}})
	_ = s.ReplaceChunks(ctx, "b", []Record{{ChunkID: "0000", Embedding: unit(2, 0)}})

	if err := s.ReplaceChunks(ctx, "a", []Record{{ChunkID: "0000", Text: "new", Embedding: unit(2, 1)}}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	if n, _ := s.Count(ctx, "a"); n != 1 {
		t.Fatalf("Count(a)=%d, want 1", n)
	}
	if n, _ := s.Count(ctx, "b"); n != 1 {
		t.Fatalf("Count(b)=%d, want 1", n)
	}

	if err := s.ReplaceChunks(ctx, "a", nil); err != nil {
		t.Fatalf("ReplaceChunks(empty): %v", err)
	}
	if n, _ := s.Count(ctx, "a"); n != 0 {
		t.Fatalf("Count(a) after empty replace=%d, want 0", n)
	}
}

func TestSearchTiesAndZeroNorm(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.ReplaceChunks(ctx, "s", []Record{
		{ChunkID: "first", Embedding: []float32{1, 0}},
		{ChunkID: "zero", Embedding: []float32{0, 0}},
		{ChunkID: "second", Embedding: []float32{2, 0}},
	})
	got, err := s.Search(ctx, []float32{1, 0}, 10, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3", len(got))
	}
	if got[0].ChunkID != "first" || got[1].ChunkID != "second" || got[2].ChunkID != "zero" {
		t.Fatalf("order=%s,%s,%s", got[0].ChunkID, got[1].ChunkID, got[2].ChunkID)
	}
	if got[2].Similarity != 0 {
		t.Fatalf("zero-norm similarity=%v, want 0", got[2].Similarity)
	}
}

func TestSearchSessionFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.ReplaceChunks(ctx, "a", []Record{{ChunkID: "0000", Speakers: []string{"Speaker_0", "Speaker_1"}, Embedding: unit(3, 0)}})
	_ = s.ReplaceChunks(ctx, "b", []Record{{ChunkID: "0000", Embedding: unit(3, 0)}})
	got, err := s.Search(ctx, unit(3, 0), 10, "a")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "a" {
		t.Fatalf("got=%+v, want only session a", got)
	}
	if len(got[0].Speakers) != 2 || got[0].Speakers[1] != "Speaker_1" {
		t.Fatalf("Speakers=%v", got[0].Speakers)
	}
	if res, _ := s.Search(ctx, nil, 10, ""); len(res) != 0 {
		t.Fatalf("empty query returned %d matches", len(res))
	}
}

func TestSpeakerLabelsWithCommas(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	want := []string{"Smith, John", "Unknown"}
	if err := s.ReplaceChunks(ctx, "a", []Record{{ChunkID: "0000", Speakers: want, Embedding: unit(3, 0)}}); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	got, err := s.Search(ctx, unit(3, 0), 1, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || len(got[0].Speakers) != 2 || got[0].Speakers[0] != "Smith, John" {
		t.Fatalf("Speakers=%q, want %q", got[0].Speakers, want)
	}

	if d := decodeSpeakers("Speaker_0,Speaker_1"); len(d) != 2 || d[1] != "Speaker_1" {
		t.Fatalf("legacy decode=%q", d)
	}
	if d := decodeSpeakers("[]"); d == nil || len(d) != 0 {
		t.Fatalf("empty decode=%#v", d)
	}
}
