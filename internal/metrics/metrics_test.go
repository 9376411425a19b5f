package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	hists    []float64
	flushes  int
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counters == nil {
		f.counters = map[string]float64{}
	}
	f.counters[name+"|"+labels["status"]+"|"+labels["kind"]] += delta
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hists = append(f.hists, value)
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func TestRecordStepAndSheet(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()
	fb := &fakeBackend{}
	SetBackend(fb)
	SetBackend(nil)
	if backend != Backend(fb) {
		t.Fatalf("SetBackend(nil) should keep the current backend")
	}

	RecordStep("admissions", "fetch", nil, 2*time.Second)
	RecordStep("admissions", "fetch", errors.New("boom"), time.Second)
	RecordSheet("admissions", "progress", 12, nil)
	RecordSheet("admissions", "raw_data", 0, errors.New("bad csv"))

	if fb.counters[StepTotal+"|success|"] != 1 || fb.counters[StepTotal+"|failure|"] != 1 {
		t.Fatalf("unexpected step counters: %v", fb.counters)
	}
	if len(fb.hists) != 2 || fb.hists[0] != 2 {
		t.Fatalf("unexpected durations: %v", fb.hists)
	}
	if fb.counters[SheetsTotal+"|success|progress"] != 1 || fb.counters[SheetsTotal+"|failure|raw_data"] != 1 {
		t.Fatalf("unexpected sheet counters: %v", fb.counters)
	}
	if fb.counters[RowsTotal+"||progress"] != 12 {
		t.Fatalf("rows counter = %v", fb.counters[RowsTotal+"||progress"])
	}
	if _, ok := fb.counters[RowsTotal+"||raw_data"]; ok {
		t.Fatalf("zero rows should not be counted")
	}
	if err := Flush(); err != nil || fb.flushes != 1 {
		t.Fatalf("flush: %v (%d)", err, fb.flushes)
	}
}

func TestDefaultBackendIsNop(t *testing.T) {
	var b Backend = nopBackend{}
	b.IncCounter(StepTotal, 1, nil)
	b.ObserveHistogram(StepDurationSeconds, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("nop flush: %v", err)
	}
}
