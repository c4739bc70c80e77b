package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsJobs(t *testing.T) {
	p := NewPool(2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var n atomic.Int32
	jobs := make([]*Job, 0, 8)
	for i := 0; i < 8; i++ {
		j, err := p.Submit(context.Background(), "count", func(context.Context) error {
			n.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		jobs = append(jobs, j)
	}
	for _, j := range jobs {
		if err := j.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if n.Load() != 8 {
		t.Fatalf("ran=%d, want 8", n.Load())
	}

	err := p.Do(context.Background(), "boom", func(context.Context) error { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("err=%v, want panic error", err)
	}
	want := errors.New("job failed")
	if err := p.Do(context.Background(), "fail", func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("err=%v, want %v", err, want)
	}

	p.Close()
	p.Close()
	if _, err := p.Submit(context.Background(), "late", func(context.Context) error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err=%v, want ErrPoolClosed", err)
	}
}

func TestPoolSkipsCancelledJob(t *testing.T) {
	p := NewPool(1, nil)
	defer p.Close()

	release := make(chan struct{})
	blocker, err := p.Submit(context.Background(), "block", func(context.Context) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	j, err := p.Submit(ctx, "cancelled", func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	close(release)
	_ = blocker.Err()
	if err := j.Err(); !errors.Is(err, context.Canceled) || ran {
		t.Fatalf("err=%v ran=%v, want Canceled and not run", err, ran)
	}

	short, stop := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()
	slow, _ := p.Submit(context.Background(), "slow", func(context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	if err := slow.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want DeadlineExceeded", err)
	}
	if err := slow.Err(); err != nil {
		t.Fatalf("job err=%v, want nil", err)
	}
}

func TestVocabRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.json")
	terms, err := LoadVocab(path)
	if err != nil || terms == nil || len(terms) != 0 {
		t.Fatalf("terms=%v err=%v, want empty list", terms, err)
	}
	saved, err := SaveVocab(path, []string{" Ada ", "", "Kafka", "Ada"})
	if err != nil {
		t.Fatalf("SaveVocab: %v", err)
	}
	want := []string{"Ada", "Kafka"}
	if !reflect.DeepEqual(saved, want) {
		t.Fatalf("saved=%q, want %q", saved, want)
	}
	loaded, err := LoadVocab(path)
	if err != nil || !reflect.DeepEqual(loaded, want) {
		t.Fatalf("loaded=%q err=%v", loaded, err)
	}
	if got := VocabPrompt(loaded); got != "Ada Kafka" {
		t.Fatalf("VocabPrompt=%q", got)
	}

	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadVocab(path); err == nil {
		t.Fatal("expected error for malformed vocab file")
	}
}

func TestStageErrorWrapping(t *testing.T) {
	err := fail("s1", StageEmbed, ErrNoTranscript)
	if !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("err=%v, want ErrNoTranscript", err)
	}
	if got := err.Error(); got != "session s1: embed: transcript not found" {
		t.Fatalf("Error()=%q", got)
	}
	if again := fail("s1", StageLoad, err); again != err {
		t.Fatalf("fail re-wrapped a StageError: %v", again)
	}
	if fail("s1", StageLoad, nil) != nil {
		t.Fatal("fail(nil) should be nil")
	}
}
