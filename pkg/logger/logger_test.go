package logger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(&Config{Level: "loud", Output: "stdout"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	l.With(String("session", "abc")).Info("connected", Int("attempt", 2), Error(errors.New("boom")))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	for _, want := range []string{`"message":"connected"`, `"session":"abc"`, `"attempt":2`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line %q missing %s", out, want)
		}
	}
}

func TestNopDoesNotPanic(t *testing.T) {
	l := Nop()
	l.Info("x")
	l.Warn("y", Bool("ok", true))
	l.Error("z", Float64("price", 1.5))
}

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorFoldsRepeatedLines(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	pub := &capturePublisher{}
	child := l.With(String("component", "feed"))
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Service: "liveticks", Publisher: pub})

	for i := 0; i < 3; i++ {
		child.Warn("ping failed", Error(errors.New("broken pipe")))
	}
	child.Error("dial failed")
	child.Info("not collected")
	l.RemoveCollector()

	if pub.topic != "logs" || len(pub.batches) != 1 {
		t.Fatalf("expected one batch on logs, got %d on %q", len(pub.batches), pub.topic)
	}
	batch := pub.batches[0]
	if len(batch) != 2 {
		t.Fatalf("expected 2 entries, got %+v", batch)
	}
	if batch[0].Count != 3 || batch[0].Level != "warn" || batch[0].Fields["error"] != "broken pipe" {
		t.Fatalf("unexpected first entry %+v", batch[0])
	}
	if batch[1].Service != "liveticks" || batch[1].Level != "error" {
		t.Fatalf("unexpected second entry %+v", batch[1])
	}
	if !strings.Contains(batch[0].Caller, "logger_test.go") {
		t.Fatalf("caller %q should point at the test", batch[0].Caller)
	}

	child.Error("after removal")
	if len(pub.batches) != 1 {
		t.Fatalf("removed collector still publishing")
	}
	if !strings.Contains(buf.String(), `"component":"feed"`) {
		t.Fatalf("child fields missing from %q", buf.String())
	}
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("warn", "a", nil, "x.go:1")
	c.AddLog("warn", "b", nil, "x.go:2")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pub.mu.Lock()
		n := len(pub.batches)
		pub.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("threshold did not trigger a flush")
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown", Duration("wait", 1500*time.Millisecond))
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"wait":1500`) {
		t.Fatalf("unexpected output %q", out)
	}
}
