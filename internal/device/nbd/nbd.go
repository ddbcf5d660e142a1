// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package nbd provides device handle backed by an NBD export. The export is
// addressed by the NBD URI, e.g. nbd+unix:///?socket=/tmp/nbd.sock or
// nbd://host:10809/export.
package nbd

import (
	"libguestfs.org/libnbd"
)

// Handle to the NBD export. libnbd handles are thread safe, hence no locking
// is needed for concurrent reads and writes.
type Nbd struct {
	handle *libnbd.Libnbd
	uri    string
}

// Connects to the export identified by uri.
func Open(uri string) (*Nbd, error) {
	h, err := libnbd.Create()
	if err != nil {
		return nil, err
	}

	if err := h.ConnectUri(uri); err != nil {
		h.Close()
		return nil, err
	}

	return &Nbd{handle: h, uri: uri}, nil
}

func (n *Nbd) ReadAt(p []byte, off int64) (int, error) {
	if err := n.handle.Pread(p, uint64(off), nil); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (n *Nbd) WriteAt(p []byte, off int64) (int, error) {
	if err := n.handle.Pwrite(p, uint64(off), nil); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (n *Nbd) Sync() error {
	return n.handle.Flush(nil)
}

func (n *Nbd) Size() (int64, error) {
	size, err := n.handle.GetSize()
	return int64(size), err
}

// The libnbd Close returns a typed pointer, hence the explicit nil check.
func (n *Nbd) Close() error {
	if err := n.handle.Close(); err != nil {
		return err
	}

	return nil
}

func (n *Nbd) Name() string {
	return n.uri
}
