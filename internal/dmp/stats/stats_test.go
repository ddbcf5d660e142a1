// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package stats

import (
	"sync"
	"testing"

	"github.com/asch/dmp/internal/dmp/bio"
)

func TestRecord(t *testing.T) {
	a := New()

	a.Record(bio.Read, 4096)
	a.Record(bio.Read, 512)
	a.Record(bio.Write, 1024)

	s := a.Snapshot()
	want := Snapshot{ReadRequests: 2, WriteRequests: 1, ReadBytes: 4608, WriteBytes: 1024}
	if s != want {
		t.Errorf("Snapshot() = %+v, want %+v", s, want)
	}
	if s.TotalRequests() != 3 || s.TotalBytes() != 5632 {
		t.Errorf("totals = %d reqs, %d bytes", s.TotalRequests(), s.TotalBytes())
	}
}

func TestZeroValueReady(t *testing.T) {
	var a Aggregator
	a.Record(bio.Write, 7)

	if s := a.Snapshot(); s.WriteRequests != 1 || s.WriteBytes != 7 {
		t.Errorf("Snapshot() = %+v", s)
	}
}

func TestAvgSize(t *testing.T) {
	tests := []struct {
		reqs, bytes, want uint64
	}{
		{0, 0, 0},
		{0, 100, 0},
		{1, 100, 100},
		{3, 100, 33},
		{5, 700, 140},
	}

	for _, tt := range tests {
		if got := AvgSize(tt.reqs, tt.bytes); got != tt.want {
			t.Errorf("AvgSize(%d, %d) = %d, want %d", tt.reqs, tt.bytes, got, tt.want)
		}
	}
}

func TestSnapshotAverages(t *testing.T) {
	a := New()
	for i := 0; i < 3; i++ {
		a.Record(bio.Read, 100)
	}
	for i := 0; i < 2; i++ {
		a.Record(bio.Write, 200)
	}

	s := a.Snapshot()
	if s.ReadAvgSize() != 100 || s.WriteAvgSize() != 200 || s.TotalAvgSize() != 140 {
		t.Errorf("averages = %d/%d/%d, want 100/200/140",
			s.ReadAvgSize(), s.WriteAvgSize(), s.TotalAvgSize())
	}

	if empty := New().Snapshot(); empty.TotalAvgSize() != 0 {
		t.Errorf("empty TotalAvgSize() = %d", empty.TotalAvgSize())
	}
}

// After all writers finish the counters are exact.
func TestConcurrentRecord(t *testing.T) {
	const (
		workers = 32
		perW    = 1000
	)

	a := New()
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				dir := bio.Read
				if (w+i)%2 == 0 {
					dir = bio.Write
				}
				a.Record(dir, uint64(i))
			}
		}(w)
	}
	wg.Wait()

	var wantBytes uint64
	for i := 0; i < perW; i++ {
		wantBytes += uint64(i)
	}
	wantBytes *= workers

	s := a.Snapshot()
	if s.TotalRequests() != workers*perW {
		t.Errorf("TotalRequests() = %d, want %d", s.TotalRequests(), workers*perW)
	}
	if s.TotalBytes() != wantBytes {
		t.Errorf("TotalBytes() = %d, want %d", s.TotalBytes(), wantBytes)
	}
}

// Snapshots taken while recording never go backwards, even though the request
// and byte counters may disagree for a moment.
func TestSnapshotMonotonicDuringRecord(t *testing.T) {
	a := New()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			a.Record(bio.Read, 512)
		}
	}()

	var prev Snapshot
	for {
		s := a.Snapshot()
		if s.ReadRequests < prev.ReadRequests || s.ReadBytes < prev.ReadBytes {
			t.Fatalf("snapshot went backwards: %+v after %+v", s, prev)
		}
		prev = s

		select {
		case <-done:
			if final := a.Snapshot(); final.ReadBytes != final.ReadRequests*512 {
				t.Errorf("final snapshot inconsistent: %+v", final)
			}
			return
		default:
		}
	}
}
