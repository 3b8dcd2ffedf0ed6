// Package config loads the cluster-wide configuration a dflow worker
// process needs at startup: the host list, per-host worker thread count,
// block size, BlockPool resident-byte cap, and swap directory.
//
// A small TOML document describes the whole cluster; environment-variable
// overrides cover deployments where writing a file per host is awkward,
// and are the only source when no config file is given.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pbnjay/memory"

	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// DefaultBlockSize matches blockpool.DefaultBlockSize; duplicated here (as a
// plain constant, not an import) to keep config dependency-free of the
// runtime packages it configures.
const DefaultBlockSize = 2 << 20

// DefaultSwapDir is used when neither the TOML document nor
// DFLOW_SWAP_DIR names one.
const DefaultSwapDir = "/tmp/dflow-swap"

// residentCapFraction is the share of total system memory the BlockPool is
// allowed to occupy when no explicit cap is configured.
const residentCapFraction = 0.5

// Cluster describes one dflow job's cluster shape and per-host tuning.
type Cluster struct {
	// Hosts lists every host's address, in rank order: Hosts[i] is host i.
	Hosts []string `toml:"hosts"`
	// WorkersPerHost is T, the number of worker threads each host runs.
	WorkersPerHost int `toml:"workers_per_host"`
	// BlockSize is the ByteBlock size in bytes.
	BlockSize int `toml:"block_size"`
	// BlockPoolCapBytes is the BlockPool's resident-byte cap; 0 means
	// "compute a default from system memory at Load time."
	BlockPoolCapBytes int64 `toml:"block_pool_cap_bytes"`
	// SwapDir is the directory the BlockPool's swap file is created in.
	SwapDir string `toml:"swap_dir"`
	// SelfVerify turns on blockio's per-record type-hash check.
	SelfVerify bool `toml:"self_verify"`
}

// Load parses the TOML cluster document at path. An empty path skips the
// file entirely and builds a Cluster purely from environment variables and
// computed defaults.
func Load(path string) (*Cluster, error) {
	var c Cluster
	if path != "" {
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return nil, dflowerrors.UsageError(dflowerrors.Context{}, "config: "+err.Error())
		}
	}
	applyEnvOverrides(&c)
	applyDefaults(&c)
	if len(c.Hosts) == 0 {
		return nil, dflowerrors.UsageError(dflowerrors.Context{}, "config: no hosts configured (set DFLOW_HOSTS or [hosts] in the TOML file)")
	}
	return &c, nil
}

func applyEnvOverrides(c *Cluster) {
	if v := os.Getenv("DFLOW_HOSTS"); v != "" {
		c.Hosts = strings.Split(v, ",")
	}
	if v := os.Getenv("DFLOW_WORKERS_PER_HOST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkersPerHost = n
		}
	}
	if v := os.Getenv("DFLOW_BLOCK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BlockSize = n
		}
	}
	if v := os.Getenv("DFLOW_BLOCK_POOL_CAP_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.BlockPoolCapBytes = n
		}
	}
	if v := os.Getenv("DFLOW_SWAP_DIR"); v != "" {
		c.SwapDir = v
	}
	if v := os.Getenv("DFLOW_SELF_VERIFY"); v != "" {
		c.SelfVerify = v == "1" || strings.EqualFold(v, "true")
	}
}

func applyDefaults(c *Cluster) {
	if c.WorkersPerHost <= 0 {
		c.WorkersPerHost = 1
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.SwapDir == "" {
		c.SwapDir = DefaultSwapDir
	}
	if c.BlockPoolCapBytes <= 0 {
		c.BlockPoolCapBytes = defaultBlockPoolCap()
	}
}

// defaultBlockPoolCap derives a resident-byte cap from total system memory
// when neither the config file nor the environment names one explicitly.
// memory.TotalMemory reports 0 on platforms it cannot introspect; the cap
// then falls back to 1 GiB.
func defaultBlockPoolCap() int64 {
	total := memory.TotalMemory()
	if total == 0 {
		return 1 << 30
	}
	return int64(float64(total) * residentCapFraction)
}

// RankOf returns hostAddr's index in c.Hosts, or -1 if it is not listed.
func (c *Cluster) RankOf(hostAddr string) int {
	for i, h := range c.Hosts {
		if h == hostAddr {
			return i
		}
	}
	return -1
}

// NumHosts returns len(c.Hosts).
func (c *Cluster) NumHosts() int { return len(c.Hosts) }
