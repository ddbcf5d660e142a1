// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package object provides block device view of an object store. The device
// space is split into chunks of the same size and every chunk is stored in a
// separate object keyed by the chunk index. Chunks which were never written
// have no object and read as zeroes.
package object

import (
	"errors"
	"fmt"
	"sync"

	"github.com/asch/dmp/internal/device/object/objproxy"
)

const (
	// Number of locks serializing read-modify-write cycles of partial chunk
	// writes. Chunks are mapped to the locks by their index.
	lockStripes = 64
)

var (
	ErrGeometry   = errors.New("invalid geometry")
	errOutOfRange = errors.New("request beyond the end of the device")
)

// Proxy to the object backend. Satisfied by *objproxy.ObjectProxy.
type Proxy interface {
	Upload(key int64, body []byte, prio bool) error
	Download(key int64, chunk []byte, offset int64, prio bool) error
	Close()
}

// Object backed device. Reads are sent with priority since someone waits for
// them, read-modify-write cycles go through the normal queues.
type Device struct {
	name      string
	proxy     Proxy
	size      int64
	chunkSize int64
	locks     [lockStripes]sync.Mutex
}

// Returns device with size bytes stored in chunkSize objects behind proxy.
// The device owns the proxy and closes it in Close().
func New(name string, proxy Proxy, size, chunkSize int64) (*Device, error) {
	if err := CheckGeometry(size, chunkSize); err != nil {
		return nil, err
	}

	return &Device{
		name:      name,
		proxy:     proxy,
		size:      size,
		chunkSize: chunkSize,
	}, nil
}

// CheckGeometry returns ErrGeometry unless both sizes are positive.
func CheckGeometry(size, chunkSize int64) error {
	if size <= 0 || chunkSize <= 0 {
		return fmt.Errorf("%w: size %d, chunk size %d", ErrGeometry, size, chunkSize)
	}

	return nil
}

func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	return d.split(p, off, d.readChunk)
}

func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	return d.split(p, off, d.writeChunk)
}

// Uploads are synchronous, there is nothing to flush.
func (d *Device) Sync() error {
	return nil
}

func (d *Device) Size() (int64, error) {
	return d.size, nil
}

func (d *Device) Close() error {
	d.proxy.Close()
	return nil
}

func (d *Device) Name() string {
	return d.name
}

// Splits the request at chunk boundaries and calls fn for every piece.
func (d *Device) split(p []byte, off int64, fn func(key, offset int64, part []byte) error) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, errOutOfRange
	}

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		key := pos / d.chunkSize
		inChunk := pos % d.chunkSize

		l := d.chunkSize - inChunk
		if rest := int64(len(p) - n); rest < l {
			l = rest
		}

		if err := fn(key, inChunk, p[n:n+int(l)]); err != nil {
			return n, err
		}
		n += int(l)
	}

	return n, nil
}

func (d *Device) readChunk(key, offset int64, part []byte) error {
	err := d.proxy.Download(key, part, offset, true)
	if errors.Is(err, objproxy.ErrNotFound) {
		zero(part)
		return nil
	}

	return err
}

// Whole chunks are uploaded directly, partial ones are merged with the
// current content of the chunk first.
func (d *Device) writeChunk(key, offset int64, part []byte) error {
	mu := &d.locks[key%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	if offset == 0 && int64(len(part)) == d.chunkSize {
		return d.proxy.Upload(key, part, false)
	}

	buf := make([]byte, d.chunkSize)
	err := d.proxy.Download(key, buf, 0, false)
	if err != nil && !errors.Is(err, objproxy.ErrNotFound) {
		return err
	}

	copy(buf[offset:], part)

	return d.proxy.Upload(key, buf, false)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
