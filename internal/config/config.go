// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package config is a singleton and provides global access to the
// configuration values.
package config

import (
	"flag"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// Default config path. It does not need to exist, default values for all parameters will be
	// used instead.
	defaultConfig = "/etc/dmp/config.toml"
)

var Cfg Config

// Configuration structure for the program. We use toml format for file-based
// configuration and also all configuration options can be overriden by
// environment variable specified in this structure.
type Config struct {
	ConfigPath string

	Major      int   `toml:"major" env:"DMP_MAJOR" env-default:"0" env-description:"Device major of the first volume. Decimal part of /dev/buse%d. Volumes get consecutive majors."`
	Threads    int   `toml:"threads" env:"DMP_THREADS" env-default:"0" env-description:"Number of user-space threads for serving queues."`
	Size       int64 `toml:"size" env:"DMP_SIZE" env-default:"8" env-description:"Volume size in GB."`
	BlockSize  int   `toml:"block_size" env:"DMP_BLOCKSIZE" env-default:"4096" env-description:"Block size."`
	Scheduler  bool  `toml:"scheduler" env:"DMP_SCHEDULER" env-default:"false" env-description:"Use block layer scheduler."`
	QueueDepth int   `toml:"queue_depth" env:"DMP_QUEUEDEPTH" env-default:"128" env-description:"Device IO queue depth."`

	Table      []string `toml:"table" env:"DMP_TABLE" env-separator:";" env-description:"Volume table lines \"dmp <device_path> <offset>\", one volume per line. Separated by ; in the environment."`
	ReadOnly   bool     `toml:"read_only" env:"DMP_READONLY" env-default:"false" env-description:"Open underlying devices read-only."`
	MaxTargets int      `toml:"max_targets" env:"DMP_MAXTARGETS" env-default:"0" env-description:"Maximal number of target instances. 0 means unlimited."`

	ControlPlane struct {
		Listen string `toml:"listen" env:"DMP_CONTROLPLANE_LISTEN" env-default:"localhost:7070" env-description:"Address of the read-only statistics endpoint."`
	} `toml:"control_plane"`

	S3 struct {
		Remote      string `toml:"remote" env:"DMP_S3_REMOTE" env-description:"S3 Remote address for s3:// devices. Empty string for AWS S3 endpoint." env-default:""`
		Region      string `toml:"region" env:"DMP_S3_REGION" env-description:"S3 Region." env-default:"us-east-1"`
		AccessKey   string `toml:"access_key" env:"DMP_S3_ACCESSKEY" env-description:"S3 Access Key." env-default:""`
		SecretKey   string `toml:"secret_key" env:"DMP_S3_SECRETKEY" env-description:"S3 Secret Key." env-default:""`
		Uploaders   int    `toml:"uploaders" env:"DMP_S3_UPLOADERS" env-description:"S3 Max number of uploader threads." env-default:"16"`
		Downloaders int    `toml:"downloaders" env:"DMP_S3_DOWNLOADERS" env-description:"S3 Max number of downloader threads." env-default:"16"`
		ChunkSize   int    `toml:"chunk_size" env:"DMP_S3_CHUNKSIZE" env-description:"Size of one object in KB." env-default:"1024"`
	} `toml:"s3"`

	Write struct {
		Durable       bool `toml:"durable" env:"DMP_WRITE_DURABLE" env-description:"Flush semantics. True means durable, false means barrier only." env-default:"false"`
		BufSize       int  `toml:"shared_buffer_size" env:"DMP_WRITE_BUFSIZE" env-description:"Write shared memory size in MB." env-default:"32"`
		ChunkSize     int  `toml:"chunk_size" env:"DMP_WRITE_CHUNKSIZE" env-description:"Chunk size in MB." env-default:"4"`
		CollisionSize int  `toml:"collision_chunk_size" env:"DMP_WRITE_COLSIZE" env-description:"Collision size in MB." env-default:"1"`
	} `toml:"write"`

	Read struct {
		BufSize int `toml:"shared_buffer_size" env:"DMP_READ_BUFSIZE" env-description:"Read shared memory size in MB." env-default:"32"`
	} `toml:"read"`

	Log struct {
		Level  int    `toml:"level" env:"DMP_LOG_LEVEL" env-description:"Log level." env-default:"1"`
		Pretty bool   `toml:"pretty" env:"DMP_LOG_PRETTY" env-description:"Pretty logging when stderr is a terminal." env-default:"true"`
		File   string `toml:"file" env:"DMP_LOG_FILE" env-description:"Log into this file instead of stderr. The file is rotated." env-default:""`
	} `toml:"log"`

	Profiler     bool `toml:"profiler" env:"DMP_PROFILER" env-description:"Enable golang web profiler." env-default:"false"`
	ProfilerPort int  `toml:"profiler_port" env:"DMP_PROFILER_PORT" env-description:"Port to listen on." env-default:"6060"`
}

// Configure reads commandline flags and handles the configuration. The
// configuration file has the lower priotiry and the environment variables have
// the highest priority. It is perfetcly to fine to use just one of these or to
// combine them.
func Configure() error {
	flagSetup()
	err := parse()

	return err
}

// Parse the configuration file and reads the environment variable. After that
// it does some values postprocessing and fills the Cfg structure.
func parse() error {
	if err := cleanenv.ReadConfig(Cfg.ConfigPath, &Cfg); err != nil {
		if err := cleanenv.ReadEnv(&Cfg); err != nil {
			return err
		}
	}

	Cfg.Size *= 1024 * 1024 * 1024
	Cfg.Write.BufSize *= 1024 * 1024
	Cfg.Write.ChunkSize *= 1024 * 1024
	Cfg.Write.CollisionSize *= 1024 * 1024
	Cfg.Read.BufSize *= 1024 * 1024
	Cfg.S3.ChunkSize *= 1024

	if Cfg.BlockSize != 512 {
		Cfg.BlockSize = 4096
	}

	return nil
}

// Handle program flags.
func flagSetup() {
	f := flag.NewFlagSet("dmp", flag.ExitOnError)
	f.StringVar(&Cfg.ConfigPath, "c", defaultConfig, "Path to configuration file")
	f.Usage = cleanenv.FUsage(f.Output(), &Cfg, nil, f.Usage)
	f.Parse(os.Args[1:])
}
