// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package target

import (
	"github.com/asch/dmp/internal/dmp/bio"
)

// Map is called for every request submitted to the virtual device. It
// accounts the request and points it to the underlying device. It must not
// block.
//
// The start offset is not added to r.Sector, requests land on the same sector
// of the underlying device.
func (i *Instance) Map(r *bio.Request) bio.MapResult {
	i.stats.Record(r.Dir, uint64(r.Len()))
	r.Dev = i.dev

	return bio.Remapped
}
