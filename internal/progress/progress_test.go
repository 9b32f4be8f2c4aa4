package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jaa/ariadl/internal/output"
)

func TestRenderProgressFillsProportionally(t *testing.T) {
	got := RenderProgress(50, 10)
	if got != "[#####-----]  50.0%" {
		t.Fatalf("unexpected bar: %q", got)
	}
	if got := RenderProgress(140, 4); got != "[####] 100.0%" {
		t.Fatalf("expected clamp to 100, got %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		42 * time.Second:             "0:42",
		3*time.Minute + 5*time.Second: "3:05",
		2*time.Hour + 61*time.Second:  "2:01:01",
	}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Fatalf("FormatDuration(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestStateNeverMovesBackwards(t *testing.T) {
	state := NewState()
	state.Start(4, Fields{FieldSpeed: "0"})
	state.Update(3, nil)
	snap := state.Update(1, Fields{FieldSpeed: "2.50"})

	if snap.Completed != 3 {
		t.Fatalf("expected completed to stay at 3, got %d", snap.Completed)
	}
	if snap.Fields[FieldSpeed] != "2.50" {
		t.Fatalf("expected speed field to update, got %q", snap.Fields[FieldSpeed])
	}
}

func TestSnapshotETA(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{Started: true, Total: 4, Completed: 1, StartedAt: start}

	eta, ok := snap.ETA(start.Add(10 * time.Second))
	if !ok || eta != 30*time.Second {
		t.Fatalf("expected 30s ETA, got %s (ok=%v)", eta, ok)
	}
	if _, ok := (Snapshot{Started: true, Total: 4, StartedAt: start}).ETA(start.Add(time.Second)); ok {
		t.Fatalf("expected no ETA before first completion")
	}
}

func TestBarNonInteractivePrintsOnCountChange(t *testing.T) {
	buf := &bytes.Buffer{}
	bar := NewBar(buf, BarOptions{Interactive: false, Width: 10})

	bar.Start(2, Fields{FieldSpeed: "0.00"})
	bar.Update(0, Fields{FieldSpeed: "1.00"})
	bar.Update(1, nil)
	bar.Update(2, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines (start, 1/2, 2/2), got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "(2/2)") || !strings.Contains(lines[2], "100.0%") {
		t.Fatalf("unexpected final line: %q", lines[2])
	}
}

func TestBarInteractiveRedrawsAndFinishesOnComplete(t *testing.T) {
	buf := &bytes.Buffer{}
	bar := NewBar(buf, BarOptions{Interactive: true, Width: 10})

	bar.Start(2, Fields{FieldSpeed: "0.00"})
	bar.Update(1, Fields{FieldSpeed: "3.20"})
	bar.Update(2, nil)
	bar.Update(2, Fields{FieldSpeed: "9.99"})

	out := buf.String()
	if !strings.Contains(out, "\r\033[2K") {
		t.Fatalf("expected in-place redraw, got %q", out)
	}
	if !strings.Contains(out, "3.20 MB/s") {
		t.Fatalf("expected speed in output, got %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("expected bar to end with a newline once complete, got %q", out)
	}
	if strings.Contains(out, "9.99") {
		t.Fatalf("expected updates after completion to be dropped, got %q", out)
	}
}

func TestEventsEmitBatchProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	events := NewEvents(output.NewLogger(output.NewJSONEmitter(buf)).WithBatch("b-1"))

	events.Start(2, Fields{FieldSpeed: "0.00"})
	events.Update(1, Fields{FieldSpeed: "1.50"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 events, got %d", len(lines))
	}
	var last output.Event
	if err := json.Unmarshal([]byte(lines[1]), &last); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if last.Event != output.EventBatchProgress || last.BatchID != "b-1" {
		t.Fatalf("unexpected event: %+v", last)
	}
	if last.Details["completed"] != float64(1) || last.Details["speed_mb_s"] != "1.50" {
		t.Fatalf("unexpected details: %+v", last.Details)
	}
}
