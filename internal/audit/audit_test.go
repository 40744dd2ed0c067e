package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/L7Shift/l7shift-website-sub000/internal/observability/alerting"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage/memory"
)

type captureWriter struct {
	mu   sync.Mutex
	runs []RunRecord
	err  error
	wait time.Duration
	// ctxErrs 记录写入发生时 context 的状态。
	ctxErrs []error
}

func (w *captureWriter) Write(ctx context.Context, run RunRecord) error {
	if w.wait > 0 {
		time.Sleep(w.wait)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ctxErrs = append(w.ctxErrs, ctx.Err())
	if w.err != nil {
		return w.err
	}
	w.runs = append(w.runs, run)
	return nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.runs)
}

type countingDispatcher struct{ n atomic.Int32 }

func (d *countingDispatcher) Notify(context.Context, alerting.Event) error {
	d.n.Add(1)
	return nil
}

func TestRecorderWritesAfterRequestContextIsCancelled(t *testing.T) {
	writer := &captureWriter{wait: 20 * time.Millisecond}
	rec := NewRecorder(writer)

	ctx, cancel := context.WithCancel(context.Background())
	rec.Record(ctx, RunRecord{RunID: "r1", EventTable: "tasks", EventID: "t1", Status: StatusProcessed})
	cancel()

	closeCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if err := rec.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if writer.count() != 1 {
		t.Fatalf("expected one write, got %d", writer.count())
	}
	if err := writer.ctxErrs[0]; err != nil {
		t.Fatalf("write context must be detached from the request: %v", err)
	}
	if writer.runs[0].Timestamp.IsZero() {
		t.Fatalf("timestamp must be filled in")
	}
}

func TestRecorderSkipsWritesAfterClose(t *testing.T) {
	writer := &captureWriter{}
	rec := NewRecorder(writer)
	if err := rec.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	rec.Record(context.Background(), RunRecord{RunID: "late"})
	if err := rec.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if writer.count() != 0 {
		t.Fatalf("expected no write after close, got %d", writer.count())
	}
}

func TestRecorderConcurrentRecordAndClose(t *testing.T) {
	writer := &captureWriter{wait: time.Millisecond}
	rec := NewRecorder(writer)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(context.Background(), RunRecord{RunID: "r"})
		}()
	}
	closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := rec.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
	written := writer.count()
	if written > 20 {
		t.Fatalf("unexpected write count %d", written)
	}
	time.Sleep(10 * time.Millisecond)
	if writer.count() != written {
		t.Fatalf("write started after close returned: %d -> %d", written, writer.count())
	}
}

func TestRecorderSwallowsWriterErrors(t *testing.T) {
	writer := &captureWriter{err: errors.New("db down")}
	rec := NewRecorder(writer, WithWriteTimeout(time.Second))
	rec.Record(context.Background(), RunRecord{RunID: "r1"})
	if err := rec.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStoreWriterInsertsAgentLog(t *testing.T) {
	store := memory.New()
	w := NewStoreWriter(store)
	err := w.Write(context.Background(), RunRecord{
		RunID:          "r1",
		EventKind:      "store-change",
		EventTable:     "tasks",
		EventID:        "t1",
		IterationCount: 2,
		Actions:        []string{"thought: ok", "action: think({})"},
		Status:         StatusProcessed,
		StopReason:     "completed",
		Timestamp:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	rows := store.Rows(Table)
	if len(rows) != 1 {
		t.Fatalf("expected one agent log, got %d", len(rows))
	}
	row := rows[0]
	if row["event_table"] != "tasks" || row["event_id"] != "t1" || row["iteration_count"] != 2 {
		t.Fatalf("unexpected row: %v", row)
	}
	if row["actions"] != `["thought: ok","action: think({})"]` {
		t.Fatalf("unexpected actions: %v", row["actions"])
	}
	if row["created_at"] != "2024-01-02T03:04:05Z" {
		t.Fatalf("unexpected created_at: %v", row["created_at"])
	}
}

func TestQueueDeliveryThroughProcessor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(16)
	target := &captureWriter{}
	processor := NewProcessor(target, queue, WithWorkerCount(2))
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	rec := NewRecorder(NewQueueWriter(queue))
	for i := 0; i < 5; i++ {
		rec.Record(ctx, RunRecord{RunID: "r", EventTable: "tasks", Actions: []string{"thought: x"}})
	}
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("close recorder: %v", err)
	}

	for target.count() < 5 {
		select {
		case <-ctx.Done():
			t.Fatalf("records were not delivered, got %d", target.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := target.runs[0].Actions; len(got) != 1 || got[0] != "thought: x" {
		t.Fatalf("record did not survive the queue: %+v", target.runs[0])
	}
}

func TestProcessorDropsMalformedAndAlertsOnFailure(t *testing.T) {
	d := &countingDispatcher{}
	p := NewProcessor(&captureWriter{err: errors.New("db down")}, NewMemoryQueue(1), WithAlertDispatcher(d))

	if err := p.handle(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("malformed payloads must be dropped, got %v", err)
	}
	payload, _ := json.Marshal(RunRecord{RunID: "r1"})
	if err := p.handle(context.Background(), payload); err == nil {
		t.Fatalf("expected writer error to be returned for requeue")
	}
	if d.n.Load() != 1 {
		t.Fatalf("expected one alert, got %d", d.n.Load())
	}
}
