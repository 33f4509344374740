// Copyright (c) 2024 The ipcmd authors.
// SPDX-License-Identifier: Apache-2.0

// The ipcmd daemon wires its collaborators together and runs a single
// dispatcher loop: every inbound Event from the kernel surface is
// fanned out to the orchestrator, the flow allocator, the enrollment
// authenticator and the mobility manager in turn, the way nim's own
// agents each own one subsystem but share one event source.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rina-project/ipcmd/base"
	"github.com/rina-project/ipcmd/diftemplate"
	"github.com/rina-project/ipcmd/enrollauth"
	"github.com/rina-project/ipcmd/flowalloc"
	"github.com/rina-project/ipcmd/kernelif"
	"github.com/rina-project/ipcmd/mobility"
	"github.com/rina-project/ipcmd/orchestrator"
	"github.com/rina-project/ipcmd/procmon"
	"github.com/rina-project/ipcmd/registry"
	"github.com/rina-project/ipcmd/txnengine"
	"github.com/rina-project/ipcmd/types"

	"github.com/sirupsen/logrus"
)

const agentName = "ipcmd"

// Version is set from the Makefile.
var Version = "No version specified"

// config is the daemon's on-disk configuration, loaded once at
// startup. Everything here has a workable default so the daemon can
// come up against an empty or missing config file.
type config struct {
	TemplateDir           string              `json:"templateDir"`
	WorkerPath            string              `json:"workerPath"`
	PollInterval          time.Duration       `json:"pollInterval"`
	DeadlineCheckInterval time.Duration       `json:"deadlineCheckInterval"`
	AuthRandomSeed        int64               `json:"authRandomSeed"`
	MobilityScripts       []mobility.Scenario `json:"mobilityScripts"`
}

// DefaultDeadlineCheckInterval bounds how stale a transaction's
// Timeout abort can be relative to its deadline: a transaction is
// reaped the first tick after its deadline elapses, so this is also
// the worst-case extra latency a caller blocked on Promise.Wait sees
// past the deadline it was given.
const DefaultDeadlineCheckInterval = time.Second

func defaultConfig() config {
	return config{
		TemplateDir:           "/etc/ipcmd/dif-templates",
		WorkerPath:            "/usr/bin/ipcp-worker",
		PollInterval:          procmon.DefaultPollInterval,
		DeadlineCheckInterval: DefaultDeadlineCheckInterval,
		AuthRandomSeed:        1,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("ipcmd: read config %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("ipcmd: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// daemon holds every collaborator this process wires together. It
// plays the role nim's own top-level struct does: one place the CLI
// flags land, and one place init/run hang their state.
type daemon struct {
	log    *base.LogObject
	logger *logrus.Logger

	debug   bool
	version bool
	cfgPath string

	cfg config

	sink      *kernelif.FakeSink
	reg       *registry.Registry
	txns      *txnengine.Table
	templates *diftemplate.Manager
	orch      *orchestrator.Orchestrator
	flows     *flowalloc.Allocator
	auth      *enrollauth.Authenticator
	mob       *mobility.Manager
	mon       *procmon.Monitor
}

// Run is the process entry point, invoked from main.
func Run() int {
	logger := logrus.New()
	log := base.NewSourceLogObject(logger, agentName, os.Getpid())
	d := &daemon{log: log, logger: logger}
	if err := d.init(); err != nil {
		log.Fatal(err)
	}
	if d.version {
		fmt.Printf("%s: %s\n", os.Args[0], Version)
		return 0
	}
	if err := d.run(context.Background()); err != nil {
		log.Fatal(err)
	}
	return 0
}

func (d *daemon) processArgs() {
	versionPtr := flag.Bool("v", false, "Print version of the agent.")
	debugPtr := flag.Bool("d", false, "Set debug level")
	cfgPtr := flag.String("c", "", "Path to the daemon's JSON configuration file")
	flag.Parse()

	d.version = *versionPtr
	d.debug = *debugPtr
	d.cfgPath = *cfgPtr
	if d.debug {
		d.logger.SetLevel(logrus.TraceLevel)
	} else {
		d.logger.SetLevel(logrus.InfoLevel)
	}
}

func (d *daemon) init() error {
	d.processArgs()
	if d.version {
		return nil
	}

	cfg, err := loadConfig(d.cfgPath)
	if err != nil {
		return err
	}
	d.cfg = cfg

	d.reg = registry.New(d.log)
	d.txns = txnengine.New(d.log)
	d.templates = diftemplate.New(d.log.CloneAndAddField("component", "diftemplate"), cfg.TemplateDir)
	if err := d.templates.LoadDir(); err != nil {
		return err
	}

	// TODO: the kernel/IPCP-worker transport this daemon drives is
	// deployment-specific (netlink, a unix-domain CDAP channel, ...);
	// FakeSink stands in as the wired CommandSink/EventSource until a
	// concrete transport is selected, matching the integration seam
	// kernelif.CommandSink/EventSource were built to isolate.
	d.sink = kernelif.NewFakeSink(false)

	spawner := orchestrator.OSWorkerSpawner{Path: cfg.WorkerPath}
	d.orch = orchestrator.New(d.log.CloneAndAddField("component", "orchestrator"), d.reg, d.txns, d.templates, d.sink, spawner)

	d.flows = flowalloc.New(d.log.CloneAndAddField("component", "flowalloc"), d.reg, d.txns, d.sink, nil)
	d.orch.SetCleaner(d.flows)

	d.auth = enrollauth.New(d.log.CloneAndAddField("component", "enrollauth"), d.sink, cfg.AuthRandomSeed)
	d.auth.SetResolver(d.orch)

	d.mob = mobility.New(d.log.CloneAndAddField("component", "mobility"), d.orch)
	for i := range cfg.MobilityScripts {
		d.mob.RegisterScenario(&cfg.MobilityScripts[i])
	}

	d.mon = procmon.New(d.log.CloneAndAddField("component", "procmon"), d.orch, d.flows)
	d.orch.SetTracker(d.mon)
	d.flows.SetTracker(d.mon)

	if err := d.sink.Subscribe(d.dispatch); err != nil {
		return err
	}
	if err := d.templates.Watch(context.Background()); err != nil {
		return err
	}
	return nil
}

// dispatch fans one inbound Event out to every collaborator that might
// care about it. Each HandleEvent ignores kinds it does not own, so
// the ordering here only matters in that the orchestrator's state
// mutations (e.g. a completed enroll updating Neighbours) should land
// before the mobility manager's next scripted step reads them -- which
// is already guaranteed since dispatch runs synchronously on the
// sink's single delivery goroutine.
func (d *daemon) dispatch(ev types.Event) {
	ctx := context.Background()
	d.orch.HandleEvent(ev)
	d.flows.HandleEvent(ctx, ev)
	d.auth.HandleEvent(ctx, ev)
	d.mob.HandleEvent(ctx, ev)
}

func (d *daemon) run(ctx context.Context) error {
	pollInterval := d.cfg.PollInterval
	go d.mon.Run(ctx, pollInterval)
	go d.reapExpiredTransactions(ctx)

	d.log.Noticef("%s: running", agentName)
	<-ctx.Done()
	return ctx.Err()
}

// reapExpiredTransactions is the timer queue spec.md's concurrency
// model names as one of the bounded suspension points: a transaction
// whose deadline has passed without a response is aborted with
// Timeout here, so a Promise.Wait on it is never left to block
// forever on a kernel reply that never arrives.
func (d *daemon) reapExpiredTransactions(ctx context.Context) {
	interval := d.cfg.DeadlineCheckInterval
	if interval <= 0 {
		interval = DefaultDeadlineCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := d.txns.ExpireDeadlines(now); n > 0 {
				d.log.Noticef("%s: expired %d transaction(s) past deadline", agentName, n)
			}
		}
	}
}
