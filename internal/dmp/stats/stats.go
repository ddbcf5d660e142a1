// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package stats aggregates request statistics of all proxy instances. There
// is one Aggregator per module activation and every instance gets a pointer to
// it during construction.
//
// Counters are updated with atomic adds only, so recording is lock-free and
// never blocks the I/O path. The request counter and the byte counter of one
// request are two separate adds. A Snapshot taken concurrently with Record may
// therefore see a request counted without its bytes or the other way round.
// Once no Record is in flight the snapshot is exact.
package stats

import (
	"sync/atomic"

	"github.com/asch/dmp/internal/dmp/bio"
)

// Aggregator holds global counters. The zero value is ready to use.
type Aggregator struct {
	readReqs   atomic.Uint64
	writeReqs  atomic.Uint64
	readBytes  atomic.Uint64
	writeBytes atomic.Uint64
}

func New() *Aggregator {
	return &Aggregator{}
}

// Record accounts one request of n bytes in direction dir.
func (a *Aggregator) Record(dir bio.Direction, n uint64) {
	if dir == bio.Write {
		a.writeReqs.Add(1)
		a.writeBytes.Add(n)
		return
	}

	a.readReqs.Add(1)
	a.readBytes.Add(n)
}

// Snapshot reads the counters one by one. It is not a point in time view
// across all four of them.
func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		ReadRequests:  a.readReqs.Load(),
		WriteRequests: a.writeReqs.Load(),
		ReadBytes:     a.readBytes.Load(),
		WriteBytes:    a.writeBytes.Load(),
	}
}

// Snapshot of the counters.
type Snapshot struct {
	ReadRequests  uint64
	WriteRequests uint64
	ReadBytes     uint64
	WriteBytes    uint64
}

func (s Snapshot) TotalRequests() uint64 {
	return s.ReadRequests + s.WriteRequests
}

func (s Snapshot) TotalBytes() uint64 {
	return s.ReadBytes + s.WriteBytes
}

func (s Snapshot) ReadAvgSize() uint64 {
	return AvgSize(s.ReadRequests, s.ReadBytes)
}

func (s Snapshot) WriteAvgSize() uint64 {
	return AvgSize(s.WriteRequests, s.WriteBytes)
}

func (s Snapshot) TotalAvgSize() uint64 {
	return AvgSize(s.TotalRequests(), s.TotalBytes())
}

// AvgSize returns average request size in bytes, zero when there were no
// requests.
func AvgSize(reqs, bytes uint64) uint64 {
	if reqs == 0 {
		return 0
	}

	return bytes / reqs
}
