// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package device

// Null device does nothing but correctly. Reads return zeroes and writes are
// acknowledged and dropped. Useful for measuring the overhead of the proxy
// together with BUSE itself, otherwise useless.
type null struct {
	size int64
}

func newNull(size int64) *null {
	return &null{size: size}
}

func (n *null) ReadAt(p []byte, off int64) (int, error) {
	for i := range p {
		p[i] = 0
	}

	return len(p), nil
}

func (n *null) WriteAt(p []byte, off int64) (int, error) {
	return len(p), nil
}

func (n *null) Sync() error {
	return nil
}

func (n *null) Size() (int64, error) {
	return n.size, nil
}

func (n *null) Close() error {
	return nil
}

func (n *null) Name() string {
	return nullPath
}
