package transcript

import (
	"path/filepath"
	"testing"
)

func sample() Transcript {
	return Transcript{
		Language: "en",
		Segments: []Segment{
			{Start: 0, End: 1.5, Text: " hello there ", Speaker: "Speaker_0"},
			{Start: 1.5, End: 3, Text: "hi", Speaker: ""},
			{Start: 3, End: 4, Text: "again", Speaker: "Speaker_0"},
		},
	}
}

func TestFlatten(t *testing.T) {
	got := sample().Flatten()
	want := "[Speaker_0] hello there\n[Unknown] hi\n[Speaker_0] again"
	if got != want {
		t.Fatalf("Flatten=%q, want %q", got, want)
	}
}

func TestSpeakers(t *testing.T) {
	got := sample().Speakers()
	if len(got) != 2 || got[0] != "Speaker_0" || got[1] != "Unknown" {
		t.Fatalf("Speakers=%v", got)
	}
}

func TestRelabel(t *testing.T) {
	tr := sample()
	if !tr.Relabel(map[string]string{"Speaker_0": "Ada", "Unknown": "Bob"}) {
		t.Fatal("expected change")
	}
	if tr.Segments[0].Speaker != "Ada" || tr.Segments[1].Speaker != "Bob" || tr.Segments[2].Speaker != "Ada" {
		t.Fatalf("segments=%+v", tr.Segments)
	}
	if tr.Relabel(map[string]string{"Nobody": "X"}) {
		t.Fatal("no matching label should report no change")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.json")
	if err := Save(path, sample()); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Segments) != 3 || got.Language != "en" {
		t.Fatalf("loaded=%+v", got)
	}
	if missing, err := ReadText(filepath.Join(t.TempDir(), "none.txt")); err != nil || missing != "" {
		t.Fatalf("ReadText missing: %q %v", missing, err)
	}
}
