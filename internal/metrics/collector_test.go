package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpMDInference, 10*time.Millisecond)
	c.RecordTiming(OpMDInference, 30*time.Millisecond)
	c.RecordTiming(OpMDInference, 20*time.Millisecond)

	snap := c.Snapshot()
	if snap.MDInference == nil {
		t.Fatal("Snapshot().MDInference is nil")
	}
	if snap.MDInference.Count != 3 {
		t.Errorf("Count = %d, want 3", snap.MDInference.Count)
	}
	if snap.MDInference.MinTimeMs != 10 {
		t.Errorf("MinTimeMs = %d, want 10", snap.MDInference.MinTimeMs)
	}
	if snap.MDInference.MaxTimeMs != 30 {
		t.Errorf("MaxTimeMs = %d, want 30", snap.MDInference.MaxTimeMs)
	}
	if snap.MDInference.TotalTimeMs != 60 {
		t.Errorf("TotalTimeMs = %d, want 60", snap.MDInference.TotalTimeMs)
	}
	if snap.MDInference.AvgTimeMs != 20 {
		t.Errorf("AvgTimeMs = %f, want 20", snap.MDInference.AvgTimeMs)
	}
}

func TestSnapshotEmptyOps(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpAnnotate, time.Millisecond)

	snap := c.Snapshot()
	if snap.Annotate == nil {
		t.Error("Annotate snapshot is nil")
	}
	if snap.KBQuery != nil {
		t.Error("KBQuery snapshot should be nil when never recorded")
	}
}

func TestCollectorConcurrentAccess(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordTiming(OpEDScore, time.Millisecond)
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.EDScore.Count != 1000 {
		t.Errorf("Count = %d, want 1000", snap.EDScore.Count)
	}
}
