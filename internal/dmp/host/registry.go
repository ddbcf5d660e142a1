// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package host is the framework side of the proxy. Target types register
// themselves in the Registry with constructor, destructor and map entry
// points. A Volume is one virtual device. It constructs its target from a
// table line, passes every request coming from BUSE through the target's Map
// and dispatches remapped requests to the device the target chose.
package host

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/asch/dmp/internal/device"
	"github.com/asch/dmp/internal/dmp/bio"
)

var (
	ErrTargetExists  = errors.New("target type already registered")
	ErrUnknownTarget = errors.New("unknown target type")
	ErrTargetBusy    = errors.New("target type in use")
)

// Target is a constructed instance of a target type.
type Target interface {
	// Map is called for every request. It has to be safe for concurrent
	// use and must not block.
	Map(r *bio.Request) bio.MapResult
}

// TargetType describes a target implementation.
type TargetType struct {
	Name    string
	Version [3]int

	// Construct creates target from the table line arguments. The devices
	// are opened with mode.
	Construct func(args []string, mode device.Mode) (Target, error)

	// Destruct releases everything Construct acquired. It is called once
	// per successfully constructed target.
	Destruct func(t Target)
}

type registration struct {
	tt    *TargetType
	users int
}

// Registry of target types. Types cannot be unregistered while any volume
// uses them.
type Registry struct {
	mu    sync.Mutex
	types map[string]*registration
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*registration)}
}

func (r *Registry) Register(tt *TargetType) error {
	if tt.Name == "" || tt.Construct == nil || tt.Destruct == nil {
		return fmt.Errorf("incomplete target type %q", tt.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.types[tt.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTargetExists, tt.Name)
	}
	r.types[tt.Name] = &registration{tt: tt}

	return nil
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.types[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}
	if reg.users > 0 {
		return fmt.Errorf("%w: %s has %d volumes", ErrTargetBusy, name, reg.users)
	}
	delete(r.types, name)

	return nil
}

// Busy reports whether any volume uses the target type.
func (r *Registry) Busy(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.types[name]

	return ok && reg.users > 0
}

// Lookup returns registered target type without taking a reference.
func (r *Registry) Lookup(name string) (*TargetType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.types[name]
	if !ok {
		return nil, false
	}

	return reg.tt, true
}

// Names of all registered target types, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)

	return names
}

// Returns target type and takes a reference to it.
func (r *Registry) get(name string) (*TargetType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}
	reg.users++

	return reg.tt, nil
}

func (r *Registry) put(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.types[name]; ok {
		reg.users--
	}
}
