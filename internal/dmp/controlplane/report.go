// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package controlplane publishes the aggregated statistics. The text report
// is served read-only at /stat/volumes, the same counters are exported for
// Prometheus at /metrics.
package controlplane

import (
	"fmt"

	"github.com/asch/dmp/internal/dmp/stats"
)

const reportFmt = "read:\n" +
	"  reqs: %d\n" +
	"  avg size: %d\n" +
	"write:\n" +
	"  reqs: %d\n" +
	"  avg size: %d\n" +
	"total:\n" +
	"  reqs: %d\n" +
	"  avg size: %d\n"

// Render formats the snapshot. Averages are in bytes.
func Render(s stats.Snapshot) string {
	return fmt.Sprintf(reportFmt,
		s.ReadRequests, s.ReadAvgSize(),
		s.WriteRequests, s.WriteAvgSize(),
		s.TotalRequests(), s.TotalAvgSize())
}
