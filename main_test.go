// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package main

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// Devices blocking until stopped.
type fakeDevices struct {
	stopped chan struct{}
	once    sync.Once
	stops   int
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{stopped: make(chan struct{})}
}

func (f *fakeDevices) run() {
	<-f.stopped
}

func (f *fakeDevices) stop() {
	f.stops++
	f.once.Do(func() { close(f.stopped) })
}

func TestRunAllStopsOnCancel(t *testing.T) {
	f := newFakeDevices()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runAll(ctx, []func(){f.run, f.run, f.run}, f.stop) }()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("runAll = %v, want nil", err)
	}
	if f.stops != 1 {
		t.Errorf("stop called %d times, want 1", f.stops)
	}
}

func TestRunAllStopsOthersWhenOneExits(t *testing.T) {
	f := newFakeDevices()
	exits := func() {}

	err := runAll(context.Background(), []func(){f.run, exits, f.run}, f.stop)
	if !errors.Is(err, errDeviceExited) {
		t.Errorf("runAll = %v, want errDeviceExited", err)
	}
	if f.stops != 1 {
		t.Errorf("stop called %d times, want 1", f.stops)
	}
}

func TestRunAllWithoutDevices(t *testing.T) {
	f := newFakeDevices()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runAll(ctx, nil, f.stop); err != nil {
		t.Errorf("runAll = %v, want nil", err)
	}
}
