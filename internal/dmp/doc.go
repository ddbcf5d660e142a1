// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// dmp is a transparent proxy for block devices. Every virtual device is
// stacked on one underlying device and forwards all reads and writes to it
// unchanged. Requests of all virtual devices are counted in one set of global
// statistics which can be read over the control plane.
//
// The module registers the dmp target type and the control-plane endpoint.
// Volumes are then created from table lines via the host package, each one
// constructing a target instance which maps its requests to the underlying
// device.
package dmp
