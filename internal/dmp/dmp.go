// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package dmp

import (
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/asch/dmp/internal/device"
	"github.com/asch/dmp/internal/dmp/controlplane"
	"github.com/asch/dmp/internal/dmp/dmerr"
	"github.com/asch/dmp/internal/dmp/host"
	"github.com/asch/dmp/internal/dmp/stats"
	"github.com/asch/dmp/internal/dmp/target"
)

// Options to use in Activate() due to high number of parameters.
type Options struct {
	// Address of the control-plane endpoint.
	Listen string

	// Maximal number of live target instances, zero for no limit.
	MaxTargets int

	// Resolves device paths from table lines.
	Resolver target.Resolver

	// Registry the target type is registered in. New one is created when
	// nil.
	Registry *host.Registry
}

// Module owns the statistics shared by all target instances, the target type
// registration and the control-plane endpoint.
type Module struct {
	stats    *stats.Aggregator
	manager  *target.Manager
	registry *host.Registry
	cp       *controlplane.Server
	served   chan error
}

// Activate registers the dmp target type and creates the control-plane
// endpoint. When the endpoint cannot be created, the target type is
// unregistered again and nothing stays active.
func Activate(o Options) (*Module, error) {
	log.Info().Msg("dm-dmp: Initializing module")

	m := &Module{
		stats:    stats.New(),
		registry: o.Registry,
	}
	if m.registry == nil {
		m.registry = host.NewRegistry()
	}
	m.manager = target.NewManager(m.stats, o.Resolver, o.MaxTargets)

	if err := m.registry.Register(m.targetType()); err != nil {
		log.Error().Err(err).Msg("dm-dmp: Error registering target")
		return nil, err
	}
	log.Info().Msgf("dm-dmp: Target '%s' registered", target.Name)

	cp, err := controlplane.Listen(o.Listen, m.stats)
	if err != nil {
		m.registry.Unregister(target.Name)
		log.Error().Err(err).Msg("dm-dmp: Control plane setup failed, module init aborted")
		return nil, dmerr.New(dmerr.ControlPlaneSetupFailed, "Control plane setup failed", err)
	}

	m.cp = cp
	m.served = make(chan error, 1)
	go func() {
		m.served <- cp.Serve()
	}()

	log.Info().Msgf("dm-dmp: Statistics available at http://%s%s", cp.Addr(), controlplane.VolumesPath)

	return m, nil
}

// Deactivate removes the control-plane endpoint and unregisters the target
// type. All volumes have to be closed before. Otherwise ErrTargetBusy is
// returned, the module stays fully active and Deactivate can be called again.
func (m *Module) Deactivate() error {
	if m.registry.Busy(target.Name) {
		err := fmt.Errorf("%w: %d instances alive", host.ErrTargetBusy, m.manager.Live())
		log.Error().Err(err).Msg("dm-dmp: Module in use")
		return err
	}

	log.Info().Msg("dm-dmp: Cleaning up module")

	var err error
	if m.cp != nil {
		err = m.cp.Close()
		if serr := <-m.served; serr != nil && err == nil {
			err = serr
		}
		m.cp = nil
	}

	if uerr := m.registry.Unregister(target.Name); uerr != nil && err == nil {
		err = uerr
	}

	log.Info().Msg("dm-dmp: Module exited")

	return err
}

func (m *Module) Registry() *host.Registry {
	return m.registry
}

func (m *Module) Stats() *stats.Aggregator {
	return m.stats
}

// Number of live target instances.
func (m *Module) Targets() int {
	return m.manager.Live()
}

// Address of the control-plane endpoint. Only valid while the module is
// active.
func (m *Module) Addr() net.Addr {
	return m.cp.Addr()
}

func (m *Module) targetType() *host.TargetType {
	return &host.TargetType{
		Name:    target.Name,
		Version: target.Version,
		Construct: func(args []string, mode device.Mode) (host.Target, error) {
			inst, err := m.manager.Create(args, mode)
			if err != nil {
				return nil, err
			}
			return inst, nil
		},
		Destruct: func(t host.Target) {
			m.manager.Destroy(t.(*target.Instance))
		},
	}
}
