// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package target implements the dmp proxy target. An Instance binds one
// virtual device to one underlying device. It forwards every request
// unchanged to the underlying device and accounts it in the shared
// statistics aggregator.
//
// Instances are created and destroyed by the Manager, which owns the
// resources acquired during construction and releases them on every failure
// path as well as on destruction.
package target

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/asch/dmp/internal/device"
	"github.com/asch/dmp/internal/dmp/dmerr"
	"github.com/asch/dmp/internal/dmp/stats"
)

const (
	// Name of the target type as used in table lines.
	Name = "dmp"

	// Number of constructor arguments: device path and offset.
	argCount = 2
)

// Version of the target type.
var Version = [3]int{1, 0, 0}

// Lifecycle state of an instance.
type State int32

const (
	Uninitialized State = iota
	Constructing
	Active
	Destroying
	Freed
)

var stateNames = [...]string{"uninitialized", "constructing", "active", "destroying", "freed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}

	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Resolver turns device path into the device handle. Satisfied by
// *device.Opener.
type Resolver interface {
	Open(path string, mode device.Mode) (device.Device, error)
}

// Instance of the proxy target. Its fields are immutable after construction,
// hence Map can run concurrently on any number of requests.
type Instance struct {
	// Exclusively owned, released in Manager.Destroy.
	dev device.Device

	// Parsed and kept, but requests are not shifted by it.
	start uint64

	stats *stats.Aggregator
	state atomic.Int32
}

func (i *Instance) Device() device.Device {
	return i.dev
}

func (i *Instance) Start() uint64 {
	return i.start
}

func (i *Instance) State() State {
	return State(i.state.Load())
}

func (i *Instance) setState(s State) {
	i.state.Store(int32(s))
}

// Manager creates and destroys instances. Every live instance occupies one of
// max slots.
type Manager struct {
	stats    *stats.Aggregator
	resolver Resolver

	max  int64
	live atomic.Int64
}

// Returns manager feeding all its instances into agg. limit is the maximal
// number of live instances, zero or negative means no limit.
func NewManager(agg *stats.Aggregator, resolver Resolver, limit int) *Manager {
	return &Manager{
		stats:    agg,
		resolver: resolver,
		max:      int64(limit),
	}
}

// Number of live instances.
func (m *Manager) Live() int {
	return int(m.live.Load())
}

// Create constructs an instance from args, which are device path and start
// offset. The device is opened with mode. No instance slot and no device
// handle is held after a failure.
func (m *Manager) Create(args []string, mode device.Mode) (*Instance, error) {
	if len(args) != argCount {
		log.Error().Int("argc", len(args)).Msg("dm-dmp: Invalid argument count")
		return nil, dmerr.New(dmerr.InvalidArgumentCount,
			"Invalid argument count. Expected 2 (device_path, offset)", nil)
	}

	if !m.allocate() {
		log.Error().Int64("max", m.max).Msg("dm-dmp: instance limit reached")
		return nil, dmerr.New(dmerr.AllocationFailed, "Cannot allocate dmp_target context", nil)
	}

	inst := &Instance{stats: m.stats}
	inst.setState(Constructing)

	start, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		log.Error().Str("offset", args[1]).Msg("dm-dmp: Invalid offset argument")
		m.release(inst)
		return nil, dmerr.New(dmerr.InvalidOffset, "Invalid device sector (offset)", err)
	}
	inst.start = start

	inst.dev, err = m.resolver.Open(args[0], mode)
	if err != nil {
		log.Error().Err(err).Str("device", args[0]).Msg("dm-dmp: device lookup failed")
		m.release(inst)
		return nil, dmerr.New(dmerr.DeviceLookupFailed, "Device lookup failed", err)
	}

	inst.setState(Active)
	log.Info().Msgf("dm-dmp: Device instance created for %s with offset %d", args[0], start)

	return inst, nil
}

// Destroy releases the device handle and the instance slot. The host calls it
// exactly once per instance, after the last request was mapped.
func (m *Manager) Destroy(inst *Instance) {
	log.Info().Str("device", inst.dev.Name()).Msg("dm-dmp: Device instance being destroyed")

	inst.setState(Destroying)

	if err := inst.dev.Close(); err != nil {
		log.Warn().Err(err).Str("device", inst.dev.Name()).Msg("dm-dmp: closing device failed")
	}
	inst.dev = nil

	m.release(inst)
}

// Reserves a slot for a new instance.
func (m *Manager) allocate() bool {
	n := m.live.Add(1)
	if m.max > 0 && n > m.max {
		m.live.Add(-1)
		return false
	}

	return true
}

func (m *Manager) release(inst *Instance) {
	inst.setState(Freed)
	m.live.Add(-1)
}
