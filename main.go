// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// dmp is a userspace daemon using BUSE for creating transparent proxy block
// devices. Every volume forwards all IO unchanged to its underlying device and
// counts it. The counters are shared by all volumes and exposed read-only over
// HTTP.
//
// Project structure is following:
//
// - internal/dmp contains the module itself: statistics, target instances,
// volumes hosting them and the control-plane endpoint. See the package
// descriptions in the source code for more details.
//
// - internal/device contains underlying devices the volumes forward to. Local
// files and block devices, NBD exports, S3 buckets and the null device which
// does nothing but correctly.
//
// - internal/config contains configuration package.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/asch/buse/lib/go/buse"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/asch/dmp/internal/config"
	"github.com/asch/dmp/internal/device"
	"github.com/asch/dmp/internal/dmp"
	"github.com/asch/dmp/internal/dmp/host"
)

var errDeviceExited = errors.New("device exited without being stopped")

// Parse configuration from file and environment variables, activates the dmp
// module and creates one buse device per table line. Devices are ran until
// SIGINT or SIGTERM comes in, then everything is torn down in reverse order.
func main() {
	err := config.Configure()
	if err != nil {
		log.Panic().Err(err).Send()
	}

	loggerSetup(config.Cfg.Log.Pretty, config.Cfg.Log.Level, config.Cfg.Log.File)

	if config.Cfg.Profiler {
		runProfiler(config.Cfg.ProfilerPort)
	}

	mod, err := dmp.Activate(dmp.Options{
		Listen:     config.Cfg.ControlPlane.Listen,
		MaxTargets: config.Cfg.MaxTargets,
		Resolver:   device.NewOpenerWithDefaults(),
	})
	if err != nil {
		log.Panic().Err(err).Send()
	}

	volumes, err := createVolumes(mod.Registry(), config.Cfg.Table)
	if err != nil {
		mod.Deactivate()
		log.Panic().Err(err).Send()
	}

	devices, err := createDevices(volumes)
	if err != nil {
		closeVolumes(volumes)
		mod.Deactivate()
		log.Panic().Err(err).Send()
	}

	if err := run(devices); err != nil {
		log.Error().Err(err).Send()
	}

	for i := range devices {
		log.Info().Msgf("Removing buse%d", config.Cfg.Major+i)
		devices[i].RemoveDevice()
	}

	closeVolumes(volumes)

	if err := mod.Deactivate(); err != nil {
		log.Error().Err(err).Send()
	}
}

// Construct one volume per table line. Already created volumes are closed when
// any of them fails.
func createVolumes(registry *host.Registry, table []string) ([]*host.Volume, error) {
	mode := device.ReadWrite
	if config.Cfg.ReadOnly {
		mode = device.ReadOnly
	}

	opts := host.Options{
		BlockSize:      int64(config.Cfg.BlockSize),
		WriteChunkSize: int64(config.Cfg.Write.ChunkSize),
		Mode:           mode,
		Durable:        config.Cfg.Write.Durable,
	}

	volumes := make([]*host.Volume, 0, len(table))
	for _, line := range table {
		v, err := host.NewVolume(registry, line, opts)
		if err != nil {
			closeVolumes(volumes)
			return nil, fmt.Errorf("table line %q: %w", line, err)
		}
		volumes = append(volumes, v)
	}

	if len(volumes) == 0 {
		log.Warn().Msg("Empty table, no volume created")
	}

	return volumes, nil
}

// Register one buse device per volume. Majors are consecutive, starting with
// the configured one.
func createDevices(volumes []*host.Volume) ([]buse.Buse, error) {
	devices := make([]buse.Buse, 0, len(volumes))
	for i, v := range volumes {
		major := config.Cfg.Major + i

		d, err := buse.New(v, buse.Options{
			Durable:        config.Cfg.Write.Durable,
			WriteChunkSize: int64(config.Cfg.Write.ChunkSize),
			BlockSize:      int64(config.Cfg.BlockSize),
			Threads:        int(config.Cfg.Threads),
			Major:          int64(major),
			WriteShmSize:   int64(config.Cfg.Write.BufSize),
			ReadShmSize:    int64(config.Cfg.Read.BufSize),
			Size:           int64(config.Cfg.Size),
			CollisionArea:  int64(config.Cfg.Write.CollisionSize),
			QueueDepth:     int64(config.Cfg.QueueDepth),
			Scheduler:      config.Cfg.Scheduler,
		})
		if err != nil {
			for j := range devices {
				devices[j].RemoveDevice()
			}
			return nil, fmt.Errorf("buse%d: %w", major, err)
		}

		log.Info().Msgf("BUSE device %d registered!", major)
		devices = append(devices, d)
	}

	return devices, nil
}

func closeVolumes(volumes []*host.Volume) {
	for _, v := range volumes {
		v.Close()
	}
}

// Run all devices until SIGINT or SIGTERM comes in.
func run(devices []buse.Buse) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runs := make([]func(), len(devices))
	for i := range devices {
		d := &devices[i]
		runs[i] = func() { d.Run() }
	}

	return runAll(ctx, runs, func() {
		if ctx.Err() != nil {
			log.Info().Msg("Received interrupt, stopping buse devices!")
		}
		for i := range devices {
			log.Info().Msgf("Stopping buse%d device", config.Cfg.Major+i)
			devices[i].StopDevice()
		}
	})
}

// Calls every run in its own goroutine and stop once ctx is done or any run
// returns on its own. The first run returning before ctx is done is reported
// as errDeviceExited.
func runAll(ctx context.Context, runs []func(), stop func()) error {
	g, gctx := errgroup.WithContext(ctx)

	for i, r := range runs {
		r := r
		major := config.Cfg.Major + i
		g.Go(func() error {
			r()
			if ctx.Err() == nil {
				return fmt.Errorf("buse%d: %w", major, errDeviceExited)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		stop()
		return nil
	})

	return g.Wait()
}

// Logs go to the rotated file when one is configured. Pretty output is used
// only when stderr is a terminal.
func loggerSetup(pretty bool, level int, file string) {
	switch {
	case file != "":
		log.Logger = log.Output(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		})
	case pretty && term.IsTerminal(int(os.Stderr.Fd())):
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// Enables remote profiling support. Useful for perfomance debugging.
func runProfiler(port int) {
	go func() {
		log.Info().Err(http.ListenAndServe(fmt.Sprintf("localhost:%d", port), nil)).Send()
	}()
}
