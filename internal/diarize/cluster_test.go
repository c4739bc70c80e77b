package diarize

import (
	"context"
	"errors"
	"testing"

	"archivist/internal/transcript"
)

func TestClustererOpensAndJoins(t *testing.T) {
	c := NewClusterer(0.75)
	if _, label := c.Assign(0, []float32{1, 0}); label != "Speaker_0" {
		t.Fatalf("first label=%q, want Speaker_0", label)
	}
	if _, label := c.Assign(1, []float32{0, 1}); label != "Speaker_1" {
		t.Fatalf("orthogonal label=%q, want Speaker_1", label)
	}
	if idx, label := c.Assign(2, []float32{0.99, 0.1}); idx != 0 || label != "Speaker_0" {
		t.Fatalf("near label=(%d,%q), want (0,Speaker_0)", idx, label)
	}
	clusters := c.Clusters()
	if len(clusters) != 2 {
		t.Fatalf("clusters=%d, want 2", len(clusters))
	}
	if got := clusters[0].Members; len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("members=%v, want [0 2]", got)
	}
	if clusters[0].Centroid[0] < 0.99 || clusters[0].Centroid[1] <= 0 {
		t.Fatalf("centroid=%v, want mean of members", clusters[0].Centroid)
	}
}

func TestClustererThresholdIsStrict(t *testing.T) {
	c := NewClusterer(1.0)
	c.Assign(0, []float32{1, 0})
	// Identical vector has similarity exactly 1, which does not exceed 1.
	if _, label := c.Assign(1, []float32{1, 0}); label != "Speaker_1" {
		t.Fatalf("label=%q, want Speaker_1", label)
	}
}

func TestClustererDeterministic(t *testing.T) {
	inputs := [][]float32{{1, 0, 0}, {0.9, 0.2, 0}, {0, 1, 0}, {0, 0.95, 0.1}, {0, 0, 1}}
	run := func() ([]string, []Cluster) {
		c := NewClusterer(0.75)
		var labels []string
		for i, v := range inputs {
			_, label := c.Assign(i, v)
			labels = append(labels, label)
		}
		return labels, c.Clusters()
	}
	l1, c1 := run()
	l2, c2 := run()
	for i := range l1 {
		if l1[i] != l2[i] {
			t.Fatalf("label[%d]=%q vs %q", i, l1[i], l2[i])
		}
	}
	if len(c1) != len(c2) {
		t.Fatalf("clusters %d vs %d", len(c1), len(c2))
	}
	for i := range c1 {
		for j := range c1[i].Centroid {
			if c1[i].Centroid[j] != c2[i].Centroid[j] {
				t.Fatalf("centroid[%d][%d] differs", i, j)
			}
		}
	}
}

type fakeVoice struct {
	byStart map[float64][]float32
	calls   int
}

func (f *fakeVoice) EmbedSpan(_ context.Context, _ string, start, _ float64) ([]float32, error) {
	f.calls++
	v, ok := f.byStart[start]
	if !ok {
		return nil, errors.New("no voice")
	}
	return v, nil
}

func TestLabelerAssignsAndMarksUnknown(t *testing.T) {
	voice := &fakeVoice{byStart: map[float64][]float32{
		0:  {1, 0},
		2:  {0, 1},
		6:  {1, 0.05},
	}}
	segs := []transcript.Segment{
		{Start: 0, End: 1.5, Text: "hello"},
		{Start: 2, End: 3, Text: "hi"},
		{Start: 4, End: 4.2, Text: "ok"},
		{Start: 5, End: 5.9, Text: "missing voice"},
		{Start: 6, End: 8, Text: "back"},
	}
	l := NewLabeler(voice, Options{}, nil)
	out, res, err := l.Label(context.Background(), "/tmp/audio.wav", segs)
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	want := []string{"Speaker_0", "Speaker_1", "Unknown", "Unknown", "Speaker_0"}
	for i, w := range want {
		if out[i].Speaker != w {
			t.Fatalf("segment %d speaker=%q, want %q", i, out[i].Speaker, w)
		}
	}
	if res.Speakers != 2 || res.Unknown != 2 {
		t.Fatalf("result=%+v, want 2 speakers and 2 unknown", res)
	}
	if voice.calls != 4 {
		t.Fatalf("voice calls=%d, want 4 (short segment skipped)", voice.calls)
	}
	if segs[0].Speaker != "" {
		t.Fatalf("input segments must not be mutated")
	}
}

func TestLabelerOrdersSegmentsByStart(t *testing.T) {
	voice := &fakeVoice{byStart: map[float64][]float32{
		0: {1, 0},
		3: {0, 1},
		6: {0.02, 1},
	}}
	segs := []transcript.Segment{
		{Start: 6, End: 7, Text: "third"},
		{Start: 0, End: 1, Text: "first"},
		{Start: 3, End: 4, Text: "second"},
	}
	out, _, err := NewLabeler(voice, Options{}, nil).Label(context.Background(), "a.wav", segs)
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	wantText := []string{"first", "second", "third"}
	wantSpeaker := []string{"Speaker_0", "Speaker_1", "Speaker_1"}
	for i := range out {
		if out[i].Text != wantText[i] || out[i].Speaker != wantSpeaker[i] {
			t.Fatalf("segment %d=(%q,%q), want (%q,%q)", i, out[i].Text, out[i].Speaker, wantText[i], wantSpeaker[i])
		}
	}
	if segs[0].Text != "third" {
		t.Fatal("input order must not change")
	}
}

func TestLabelerNilEmbedder(t *testing.T) {
	l := NewLabeler(nil, Options{}, nil)
	out, res, err := l.Label(context.Background(), "", []transcript.Segment{{Start: 0, End: 3}})
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if out[0].Speaker != transcript.UnknownSpeaker || res.Speakers != 0 {
		t.Fatalf("speaker=%q speakers=%d", out[0].Speaker, res.Speakers)
	}
}

func TestLabelerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLabeler(&fakeVoice{}, Options{}, nil)
	if _, _, err := l.Label(ctx, "", []transcript.Segment{{Start: 0, End: 3}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
