// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package bio describes one in-flight block I/O request as it travels from
// the virtual device through the target to the underlying device.
package bio

import (
	"github.com/asch/dmp/internal/device"
)

// Sector is a linux constant, which is always 512, no matter how big your
// sectors or blocks are.
const SectorSize = 512

// Direction of the request.
type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}

	return "read"
}

// Request is owned by the host. Targets inspect it and may rewrite Dev before
// the host dispatches it.
type Request struct {
	Dir Direction

	// First sector of the request in 512 byte units.
	Sector int64

	// Payload. Its length is the size of the request.
	Data []byte

	// Device the request is dispatched to.
	Dev device.Device
}

// Size of the request in bytes.
func (r *Request) Len() int {
	return len(r.Data)
}

// Byte offset of the request on its device.
func (r *Request) Offset() int64 {
	return r.Sector * SectorSize
}

// Result of mapping the request by a target.
type MapResult int

const (
	// Target rewrote the request, the host dispatches it to Dev.
	Remapped MapResult = iota

	// Target took over the request and completes it itself.
	Submitted

	// Request has to be failed with an I/O error.
	Kill
)

func (m MapResult) String() string {
	switch m {
	case Remapped:
		return "remapped"
	case Submitted:
		return "submitted"
	default:
		return "kill"
	}
}
