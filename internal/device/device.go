// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package device resolves device paths into handles of underlying storage.
// A handle is anything which can be read and written at byte offsets. Besides
// local block devices and image files it supports NBD exports, an object
// store and a null device for benchmarking.
package device

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/asch/dmp/internal/config"
	"github.com/asch/dmp/internal/device/nbd"
	"github.com/asch/dmp/internal/device/object"
	"github.com/asch/dmp/internal/device/object/objproxy"
	"github.com/asch/dmp/internal/device/object/s3"
)

// Access mode the device is opened with.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadOnly {
		return "r"
	}

	return "rw"
}

const (
	nullPath  = "null"
	s3Prefix  = "s3://"
	nbdPrefix = "nbd"
)

// ErrReadOnly is returned by writes to a device opened with ReadOnly mode.
var ErrReadOnly = errors.New("device opened read-only")

// Device is an opaque handle of the underlying storage. It has to support
// concurrent ReadAt and WriteAt calls.
type Device interface {
	io.ReaderAt
	io.WriterAt

	// Makes all previous writes durable.
	Sync() error

	// Size of the device in bytes.
	Size() (int64, error)

	// Releases the handle. It is called exactly once.
	Close() error

	// Path the device was resolved from.
	Name() string
}

// Options of the Opener. Only needed for devices which are not described by
// their path completely.
type Options struct {
	// Size of the null device and object device in bytes.
	Size int64

	// Chunk size of the object device in bytes.
	ChunkSize int64

	// Number of workers for object uploads and downloads.
	Uploaders   int
	Downloaders int

	S3 s3.Options
}

// Opener resolves device paths. It is safe for concurrent use.
type Opener struct {
	opts Options
}

func NewOpener(opts Options) *Opener {
	return &Opener{opts: opts}
}

// Returns Opener configured from the global configuration.
func NewOpenerWithDefaults() *Opener {
	return NewOpener(Options{
		Size:        config.Cfg.Size,
		ChunkSize:   int64(config.Cfg.S3.ChunkSize),
		Uploaders:   config.Cfg.S3.Uploaders,
		Downloaders: config.Cfg.S3.Downloaders,
		S3: s3.Options{
			Remote:    config.Cfg.S3.Remote,
			Region:    config.Cfg.S3.Region,
			AccessKey: config.Cfg.S3.AccessKey,
			SecretKey: config.Cfg.S3.SecretKey,
		},
	})
}

// Open resolves path into the device handle with access mode.
//
//	null                  discarding device
//	nbd://... nbd+unix:// NBD export
//	s3://bucket           object store bucket
//	anything else         block device node or image file
func (o *Opener) Open(path string, mode Mode) (Device, error) {
	var (
		d   Device
		err error
	)

	switch {
	case path == nullPath:
		d = newNull(o.opts.Size)
	case strings.HasPrefix(path, s3Prefix):
		d, err = o.openObject(path)
	case strings.HasPrefix(path, nbdPrefix) && strings.Contains(path, "://"):
		d, err = nbd.Open(path)
	default:
		d, err = openFile(path, mode)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	if mode == ReadOnly {
		d = readOnly{d}
	}

	return d, nil
}

func (o *Opener) openObject(path string) (Device, error) {
	opts := o.opts.S3
	opts.Bucket = strings.TrimPrefix(path, s3Prefix)
	if opts.Bucket == "" {
		return nil, errors.New("missing bucket name")
	}

	if err := object.CheckGeometry(o.opts.Size, o.opts.ChunkSize); err != nil {
		return nil, err
	}

	store, err := s3.New(opts)
	if err != nil {
		return nil, err
	}

	proxy := objproxy.New(store, o.opts.Uploaders, o.opts.Downloaders)

	d, err := object.New(path, proxy, o.opts.Size, o.opts.ChunkSize)
	if err != nil {
		proxy.Close()
		return nil, err
	}

	return d, nil
}

// Regular file or block device node.
type file struct {
	*os.File
}

func openFile(path string, mode Mode) (*file, error) {
	flag := os.O_RDONLY
	if mode == ReadWrite {
		flag = os.O_RDWR
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}

	return &file{f}, nil
}

// Block devices report zero size in stat, hence seeking to the end.
func (f *file) Size() (int64, error) {
	s, err := f.Stat()
	if err != nil {
		return 0, err
	}

	if s.Mode().IsRegular() {
		return s.Size(), nil
	}

	return f.Seek(0, io.SeekEnd)
}

// Guard rejecting writes to devices opened read-only.
type readOnly struct {
	Device
}

func (r readOnly) WriteAt(p []byte, off int64) (int, error) {
	return 0, ErrReadOnly
}
