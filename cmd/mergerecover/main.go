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

// Command mergerecover runs merge or dump recovery against one consistent
// hash group of a distributed key-value store (spec.md §6 "CLI surface").
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gofrs/flock"
	"github.com/nexus-storage/mergerecover/cluster"
	"github.com/nexus-storage/mergerecover/config"
	"github.com/nexus-storage/mergerecover/dump"
	"github.com/nexus-storage/mergerecover/keyspace"
	"github.com/nexus-storage/mergerecover/monitor"
	"github.com/nexus-storage/mergerecover/recovery"
	"github.com/nexus-storage/mergerecover/rlog"
	"github.com/nexus-storage/mergerecover/storageclient/fakestore"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
)

// newDialer opens one fakestore.Node per address known to routes, backed
// by a bolt file under ctx.TmpDir, and returns a Dialer over them. The
// real node-construction/bootstrap library is an external collaborator
// per spec.md §1/§6; this in-repo backend is what ships until a concrete
// production client library is wired in its place.
func newDialer(routes *keyspace.RouteTable, groups []uint32, tmpDir string) (*fakestore.Dialer, error) {
	seen := make(map[keyspace.NodeAddress]bool)
	var nodes []*fakestore.Node
	for _, g := range groups {
		for _, addr := range routes.Addresses(g) {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			path := filepath.Join(tmpDir, fmt.Sprintf("node-%s-%d-%d.bolt", addr.Host, addr.Port, addr.Family))
			n, err := fakestore.NewNode(addr, path)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
	}
	return fakestore.NewDialer(nodes...), nil
}

type globals struct {
	Config   string `help:"Path to the TOML config file." required:""`
	Routes   string `help:"Path to the routing-table JSON snapshot." required:""`
	LogLevel string `help:"Override ctx.log_level." default:""`
}

type mergeCmd struct {
	Check bool `help:"Look up the owner before recovering, skipping just-remove." default:"true"`
}

type dumpCmd struct{}

var cli struct {
	globals
	Merge mergeCmd `cmd:"" help:"Recover foreign keys across every node in each group."`
	Dump  dumpCmd  `cmd:"" help:"Recover keys listed in ctx.dump_file across a group."`
}

func main() {
	ctxKong := kong.Parse(&cli, kong.Name("mergerecover"),
		kong.Description("Merge and dump recovery for a consistent-hash replica group."))

	ctx, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mergerecover:", err)
		os.Exit(1)
	}
	if cli.LogLevel != "" {
		ctx.LogLevel = cli.LogLevel
	}

	routes, err := keyspace.LoadRoutesJSON(cli.Routes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mergerecover:", err)
		os.Exit(1)
	}
	ctx.Routes = routes

	log, closer, err := rlog.New(ctx.LogFile, rlog.ParseLevel(ctx.LogLevel))
	if err != nil {
		fmt.Fprintln(os.Stderr, "mergerecover:", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	// One mergerecover run owns tmp_dir's spill files at a time; a second
	// concurrent run against the same tmp_dir would corrupt each other's
	// iterator buffers.
	runLock := flock.New(filepath.Join(ctx.TmpDir, "mergerecover.lock"))
	locked, err := runLock.TryLock()
	if err != nil || !locked {
		fmt.Fprintln(os.Stderr, "mergerecover: another run holds the tmp_dir lock")
		os.Exit(1)
	}
	defer runLock.Unlock()

	registry := prometheus.NewRegistry()
	collector := monitor.NewCollector(registry)
	publisher := monitor.NewPublisher(ctx.MonitorEndpoint, 30*time.Second)

	pubCtx, cancelPub := context.WithCancel(context.Background())
	go publisher.Run(pubCtx, collector)
	defer cancelPub()

	var ok bool
	var stat recovery.Stat

	switch ctxKong.Command() {
	case "merge":
		ok, stat = runMerge(ctx, log, collector)
	case "dump":
		ok, stat = runDump(ctx, log, collector)
	default:
		fmt.Fprintln(os.Stderr, "mergerecover: unknown command")
		os.Exit(2)
	}

	printSummary(stat)
	if !ok {
		os.Exit(1)
	}
}

func runMerge(ctx config.Ctx, log *rlog.Logger, collector *monitor.Collector) (bool, recovery.Stat) {
	var oneNode *keyspace.NodeAddress
	if ctx.OneNode {
		oneNode = &ctx.Address
	}

	params := recovery.Params{
		ChunkSize:   uint64(ctx.ChunkSize.Bytes()),
		Attempts:    ctx.Attempts,
		WaitTimeout: ctx.WaitTimeout,
		Safe:        ctx.Safe,
		DryRun:      ctx.DryRun,
	}

	cache, err := cluster.NewClientCache(uint32(ctx.Nprocess) * 4)
	if err != nil {
		log.Error("building client cache failed", "err", err)
		return false, recovery.Stat{}
	}
	defer cache.Close()

	dialer, err := newDialer(ctx.Routes, ctx.Groups, ctx.TmpDir)
	if err != nil {
		log.Error("building node dialer failed", "err", err)
		return false, recovery.Stat{}
	}

	processor := &cluster.NodeProcessor{
		Dialer:      dialer,
		Router:      ctx.Routes,
		Address:     ctx.Address,
		Remotes:     ctx.Remotes,
		IOThreads:   4,
		WaitTimeout: ctx.WaitTimeout,
		BatchSize:   ctx.BatchSize,
		Check:       cli.Merge.Check,
		Params:      params,
		Cache:       cache,
		Log:         log,
	}

	pool := &cluster.WorkerPool{Nprocess: ctx.Nprocess, Processor: processor, Log: log}
	gp := &cluster.GroupProcessor{Routes: ctx.Routes, OneNode: oneNode, Pool: pool, Log: log}

	groups := ctx.Groups
	if ctx.OneNode {
		groups = oneNodeGroup(ctx.Routes, ctx.Groups, ctx.Address)
	}

	ok, stat := gp.Run(context.Background(), groups)
	collector.Record("run", stat)
	return ok, stat
}

func runDump(ctx config.Ctx, log *rlog.Logger, collector *monitor.Collector) (bool, recovery.Stat) {
	keys, err := dump.ReadKeys(ctx.DumpFile)
	if err != nil {
		log.Error("reading dump file failed", "err", err)
		return false, recovery.Stat{}
	}

	params := recovery.Params{
		ChunkSize:   uint64(ctx.ChunkSize.Bytes()),
		Attempts:    ctx.Attempts,
		WaitTimeout: ctx.WaitTimeout,
		Safe:        ctx.Safe,
		DryRun:      ctx.DryRun,
	}

	dialer, err := newDialer(ctx.Routes, ctx.Groups, ctx.TmpDir)
	if err != nil {
		log.Error("building node dialer failed", "err", err)
		return false, recovery.Stat{}
	}
	client, err := dialer.NewNode(context.Background(), ctx.Address, ctx.WaitTimeout, 4, ctx.Remotes)
	if err != nil {
		log.Error("dialing cluster failed", "err", err)
		return false, recovery.Stat{}
	}
	defer client.Close()

	pool := &dump.Pool{
		Nprocess: ctx.Nprocess,
		Keys:     keys,
		NewGroup: func(group uint32) *dump.GroupProcessor {
			return &dump.GroupProcessor{
				Group:     group,
				BatchSize: ctx.BatchSize,
				Params:    params,
				Client:    client,
				Router:    ctx.Routes,
				Log:       log,
			}
		},
	}

	ok, stat := pool.Run(context.Background(), ctx.Groups)
	collector.Record("dump", stat)
	return ok, stat
}

// oneNodeGroup narrows candidates to the single group addr actually
// belongs to — one-node mode scopes merge recovery to that group alone
// (spec.md §4.6, "single ctx.address.group when one_node").
func oneNodeGroup(routes *keyspace.RouteTable, candidates []uint32, addr keyspace.NodeAddress) []uint32 {
	for _, g := range candidates {
		if routes.HasAddress(g, addr) {
			return []uint32{g}
		}
	}
	return nil
}

func printSummary(stat recovery.Stat) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "value"})
	rows := [][]string{
		{"skipped", fmt.Sprint(stat.Skipped)},
		{"read", fmt.Sprint(stat.Read)},
		{"read_bytes", fmt.Sprint(stat.ReadBytes)},
		{"read_retries", fmt.Sprint(stat.ReadRetries)},
		{"read_failed", fmt.Sprint(stat.ReadFailed)},
		{"write", fmt.Sprint(stat.Write)},
		{"written_bytes", fmt.Sprint(stat.WrittenBytes)},
		{"write_retries", fmt.Sprint(stat.WriteRetries)},
		{"write_failed", fmt.Sprint(stat.WriteFailed)},
		{"removed", fmt.Sprint(stat.Removed)},
		{"remove_failed", fmt.Sprint(stat.RemoveFailed)},
		{"remove_retries", fmt.Sprint(stat.RemoveRetries)},
		{"iterations", fmt.Sprint(stat.Iterations)},
	}
	table.AppendBulk(rows)
	table.Render()
}
