// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package host

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/asch/buse/lib/go/buse"
	"github.com/rs/zerolog/log"

	"github.com/asch/dmp/internal/device"
	"github.com/asch/dmp/internal/dmp/bio"
)

const (
	// Size of the metadata for one write in the write chunk read from the
	// kernel.
	writeItemSize = 32
)

var (
	ErrEmptyTable = errors.New("empty table line")
	ErrKilled     = errors.New("request killed by target")
	ErrNoDevice   = errors.New("remapped request without device")
)

var _ buse.BuseReadWriter = (*Volume)(nil)

// Options of the volume. Sizes are in bytes.
type Options struct {
	// Block size of the BUSE device.
	BlockSize int64

	// Size of the write chunk BUSE hands over in one BuseWrite call.
	WriteChunkSize int64

	// Access mode of underlying devices.
	Mode device.Mode

	// Flush underlying device after every write chunk.
	Durable bool
}

// Volume is one virtual device. It implements BuseReadWriter interface which
// can be passed to the buse package.
type Volume struct {
	registry *Registry
	tt       *TargetType
	target   Target
	table    string
	opts     Options

	// Size of the portion of the write chunk which contains all writes
	// metadata. After this offset real data are stored.
	metadataSize int64

	closeOnce sync.Once
}

// Returns volume constructed from table line "<target type> <args...>". The
// target type stays referenced until Close().
func NewVolume(registry *Registry, table string, opts Options) (*Volume, error) {
	fields := strings.Fields(table)
	if len(fields) == 0 {
		return nil, ErrEmptyTable
	}

	tt, err := registry.get(fields[0])
	if err != nil {
		return nil, err
	}

	target, err := tt.Construct(fields[1:], opts.Mode)
	if err != nil {
		registry.put(tt.Name)
		return nil, err
	}

	v := &Volume{
		registry: registry,
		tt:       tt,
		target:   target,
		table:    table,
		opts:     opts,
	}

	if opts.BlockSize > 0 {
		v.metadataSize = opts.WriteChunkSize / opts.BlockSize * writeItemSize
	}

	return v, nil
}

// Table line the volume was created from.
func (v *Volume) Table() string {
	return v.table
}

func (v *Volume) Target() Target {
	return v.target
}

// Read extent starting at sector with length length to the buffer chunk.
// Sector and length are in blocks, the length of chunk is the size of the
// request.
func (v *Volume) BuseRead(sector, length int64, chunk []byte) error {
	r := bio.Request{
		Dir:    bio.Read,
		Sector: sector * v.opts.BlockSize / bio.SectorSize,
		Data:   chunk,
	}

	return v.submit(&r)
}

// Handle writes coming from the buse library. writes contain number of write
// commands in this call and chunk contains memory where these commands are
// stored together with their data. First part of the chunk are metadata, until
// metadataSize and the rest are data of all writes in the same order.
//
// Every write is mapped separately, as the kernel would see it.
func (v *Volume) BuseWrite(writes int64, chunk []byte) error {
	metadata := chunk[:v.metadataSize]
	data := chunk[v.metadataSize:]

	var last device.Device
	for i := int64(0); i < writes; i++ {
		sector, length := parseWrite(metadata[:writeItemSize])
		metadata = metadata[writeItemSize:]

		size := length * bio.SectorSize
		r := bio.Request{
			Dir:    bio.Write,
			Sector: sector,
			Data:   data[:size],
		}
		data = data[size:]

		if err := v.submit(&r); err != nil {
			return err
		}
		last = r.Dev
	}

	if v.opts.Durable && last != nil {
		return last.Sync()
	}

	return nil
}

func (v *Volume) BusePreRun() {
	log.Info().Str("table", v.table).Msg("Volume is running")
}

func (v *Volume) BusePostRemove() {
	log.Info().Str("table", v.table).Msg("Volume removed")
}

// Close destructs the target. It is safe to call it multiple times, the
// target is destructed only once. No request may be in flight.
func (v *Volume) Close() {
	v.closeOnce.Do(func() {
		v.tt.Destruct(v.target)
		v.registry.put(v.tt.Name)
	})
}

func (v *Volume) submit(r *bio.Request) error {
	switch v.target.Map(r) {
	case bio.Remapped:
		return dispatch(r)
	case bio.Submitted:
		return nil
	default:
		return ErrKilled
	}
}

// Sends the request to the device the target chose.
func dispatch(r *bio.Request) error {
	if r.Dev == nil {
		return ErrNoDevice
	}

	var err error
	if r.Dir == bio.Write {
		_, err = r.Dev.WriteAt(r.Data, r.Offset())
	} else {
		_, err = r.Dev.ReadAt(r.Data, r.Offset())
	}

	if err != nil {
		return fmt.Errorf("%s %d bytes at sector %d of %s: %w",
			r.Dir, r.Len(), r.Sector, r.Dev.Name(), err)
	}

	return nil
}

// Parses sector and length of one write from 32 bytes of raw memory. Both are
// in 512 byte sectors. The remaining 16 bytes are sequential number and flag,
// which are of no use here.
func parseWrite(b []byte) (sector, length int64) {
	sector = int64(binary.LittleEndian.Uint64(b[:8]))
	length = int64(binary.LittleEndian.Uint64(b[8:16]))

	return sector, length
}
