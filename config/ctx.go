// Copyright 2024 The Erigon Authors
// (original work)
// Copyright 2026 The Merge Recovery Authors
// (modifications)
// This file is part of Merge Recovery.
//
// Merge Recovery is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Merge Recovery is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Merge Recovery. If not, see <http://www.gnu.org/licenses/>.

// Package config loads and represents the shared, read-only Ctx bundle
// (spec.md §3) that is threaded through every merge/dump recovery
// operation but never mutated by the core.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/pbnjay/memory"
	"github.com/pelletier/go-toml/v2"
)

// Ctx is the immutable configuration bundle (spec.md §3) plus the
// additive monitor/spill fields a complete implementation needs.
// Every field is set while the run is configured (by Load, then by the
// caller for Routes, Address, Remotes and CLI overrides) and never mutated
// once recovery starts — RecoveryTask, BatchRunner, NodeProcessor and
// DumpTask all read it by value or via a *Ctx they never write through.
type Ctx struct {
	ChunkSize      datasize.ByteSize `toml:"chunk_size"`
	BatchSize      int               `toml:"batch_size"`
	Attempts       int               `toml:"attempts"`
	WaitTimeout    time.Duration     `toml:"wait_timeout"`
	Safe           bool              `toml:"safe"`
	DryRun         bool              `toml:"dry_run"`
	TmpDir         string            `toml:"tmp_dir"`
	TimestampFloor time.Time         `toml:"-"`

	Nprocess int                   `toml:"nprocess"`
	OneNode  bool                  `toml:"one_node"`
	Address  keyspace.NodeAddress  `toml:"-"`
	Remotes  []keyspace.NodeAddress `toml:"-"`
	Groups   []uint32             `toml:"groups"`

	Routes *keyspace.RouteTable `toml:"-"`

	MonitorEndpoint string `toml:"monitor_endpoint"`
	SpillCodec      string `toml:"spill_codec"`

	LogFile  string `toml:"log_file"`
	LogLevel string `toml:"log_level"`
	DumpFile string `toml:"dump_file"`
}

// rawCtx is the on-disk shape: every field the toml loader can parse
// directly. Address/Remotes/Routes/TimestampFloor come from the
// node-bootstrap and routing-table collaborators (out of scope, spec.md
// §1) and are filled in by the caller after Load returns.
type rawCtx struct {
	ChunkSize       string `toml:"chunk_size"`
	BatchSize       int    `toml:"batch_size"`
	Attempts        int    `toml:"attempts"`
	WaitTimeout     string `toml:"wait_timeout"`
	Safe            bool   `toml:"safe"`
	DryRun          bool   `toml:"dry_run"`
	TmpDir          string `toml:"tmp_dir"`
	Nprocess        int    `toml:"nprocess"`
	OneNode         bool   `toml:"one_node"`
	Groups          []uint32 `toml:"groups"`
	MonitorEndpoint string `toml:"monitor_endpoint"`
	SpillCodec      string `toml:"spill_codec"`
	LogFile         string `toml:"log_file"`
	LogLevel        string `toml:"log_level"`
	DumpFile        string `toml:"dump_file"`
}

// Load reads a TOML config file and applies defaults for any field left
// unset, matching the CLI's own default-sizing convention of scaling
// worker/process counts off the visible system memory and CPU count.
func Load(path string) (Ctx, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Ctx{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw rawCtx
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Ctx{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	ctx := Ctx{
		BatchSize:       raw.BatchSize,
		Attempts:        raw.Attempts,
		Safe:            raw.Safe,
		DryRun:          raw.DryRun,
		TmpDir:          raw.TmpDir,
		Nprocess:        raw.Nprocess,
		OneNode:         raw.OneNode,
		Groups:          raw.Groups,
		MonitorEndpoint: raw.MonitorEndpoint,
		SpillCodec:      raw.SpillCodec,
		LogFile:         raw.LogFile,
		LogLevel:        raw.LogLevel,
		DumpFile:        raw.DumpFile,
	}

	if raw.ChunkSize != "" {
		var sz datasize.ByteSize
		if err := sz.UnmarshalText([]byte(raw.ChunkSize)); err != nil {
			return Ctx{}, fmt.Errorf("config: chunk_size: %w", err)
		}
		ctx.ChunkSize = sz
	}
	if raw.WaitTimeout != "" {
		d, err := time.ParseDuration(raw.WaitTimeout)
		if err != nil {
			return Ctx{}, fmt.Errorf("config: wait_timeout: %w", err)
		}
		ctx.WaitTimeout = d
	}

	applyDefaults(&ctx)
	return ctx, nil
}

// applyDefaults fills in zero fields so a bare config file is still
// runnable: fixed defaults for chunk size, batch size, attempts, wait
// timeout, tmp dir, log level and spill codec, and a process count scaled
// off available memory (pbnjay/memory) and capped at the CPU count.
func applyDefaults(ctx *Ctx) {
	if ctx.ChunkSize == 0 {
		ctx.ChunkSize = 64 * datasize.MB
	}
	if ctx.BatchSize == 0 {
		ctx.BatchSize = 64
	}
	if ctx.Attempts == 0 {
		ctx.Attempts = 3
	}
	if ctx.WaitTimeout == 0 {
		ctx.WaitTimeout = 5 * time.Second
	}
	if ctx.TmpDir == "" {
		ctx.TmpDir = os.TempDir()
	}
	if ctx.Nprocess == 0 {
		ctx.Nprocess = defaultNprocess()
	}
	if ctx.LogLevel == "" {
		ctx.LogLevel = "info"
	}
	if ctx.SpillCodec == "" {
		ctx.SpillCodec = "cbor+zstd"
	}
}

// defaultNprocess scales worker count off total visible memory, assuming
// each node-processing worker needs headroom for its spill buffer and
// iterator batch, and never exceeds the CPU count.
func defaultNprocess() int {
	total := memory.TotalMemory()
	const perWorker = 256 << 20 // 256MiB headroom per worker
	n := int(total / perWorker)
	if n < 1 {
		n = 1
	}
	if cpu := runtime.NumCPU(); n > cpu {
		n = cpu
	}
	return n
}
