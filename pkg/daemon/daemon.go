// Copyright The agentcg Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon composes the pieces into the running service: it owns
// the resource-domain hierarchy, the isolation controller and the tick
// loop driving it, plus the metrics and health endpoints.
package daemon

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentcg/agentcg/pkg/cgroups"
	logger "github.com/agentcg/agentcg/pkg/log"
	"github.com/agentcg/agentcg/pkg/memcg"
)

var log = logger.Get("daemon")

// Session names under the hierarchy root. The protected session hosts
// the primary workload, the candidate session hosts deprioritized
// background work.
const (
	protectedSession = "session_high"
	candidateSession = "session_low"
)

// ephemeralPrefix marks per-command domains left behind by crashed
// wrappers; the reaper removes them.
const ephemeralPrefix = "tool_"

// Daemon is the composed service.
type Daemon struct {
	cfg        Config
	root       *cgroups.Domain
	protected  *cgroups.Domain
	candidate  *cgroups.Domain
	controller *memcg.Controller
	server     *http.Server
}

// New creates a daemon from the given configuration.
func New(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	controller, err := memcg.NewController(cfg.Memcg)
	if err != nil {
		return nil, err
	}
	return &Daemon{cfg: cfg, controller: controller}, nil
}

// Protected returns the protected session domain, nil before Run.
func (d *Daemon) Protected() *cgroups.Domain {
	return d.protected
}

// Candidate returns the candidate session domain, nil before Run.
func (d *Daemon) Candidate() *cgroups.Domain {
	return d.candidate
}

// Run sets up the hierarchy, attaches the controller and drives it
// until the context is cancelled, then restores default policy knobs
// and tears the hierarchy down.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.setupHierarchy(); err != nil {
		return err
	}
	d.prepareUsageLog()
	d.reapEphemeral()

	pairing := memcg.Pairing{
		Protected:  d.protected.Group,
		Candidates: []cgroups.Group{d.candidate.Group},
	}
	if err := d.controller.Attach(pairing); err != nil {
		if derr := d.root.Destroy(); derr != nil {
			log.Warn("%v", derr)
		}
		return err
	}

	d.startHTTP()
	log.Info("running, poll interval %v", time.Duration(d.cfg.PollInterval))

	ticker := time.NewTicker(time.Duration(d.cfg.PollInterval))
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if err := d.controller.Poll(); err != nil {
				log.WarnLimited("poll: %v", err)
			}
		}
	}

	return d.shutdown()
}

// setupHierarchy creates root, protected and candidate domains,
// enables the memory and cpu controllers for the subtree and applies
// the CPU weights. Weight write failures are logged only; CPU
// prioritization is independent of memory isolation.
func (d *Daemon) setupHierarchy() error {
	root, err := cgroups.NewRootDomain(d.cfg.CgroupRoot)
	if err != nil {
		return err
	}
	if err := root.EnableControllers("memory", "cpu"); err != nil {
		log.Warn("%v", err)
	}

	protected, err := root.NewChild(protectedSession, cgroups.KindSession, cgroups.ClassProtected)
	if err != nil {
		return err
	}
	candidate, err := root.NewChild(candidateSession, cgroups.KindSession, cgroups.ClassCandidate)
	if err != nil {
		return err
	}

	// ephemeral tool domains are created under the protected session;
	// without subtree control there they get no memory accounting
	if err := protected.EnableControllers("memory", "cpu"); err != nil {
		log.Warn("%v", err)
	}

	if err := protected.Write(cgroups.CPUWeight, strconv.Itoa(d.cfg.ProtectedCPUWeight)); err != nil {
		log.Warn("%v", err)
	}
	if err := candidate.Write(cgroups.CPUWeight, strconv.Itoa(d.cfg.CandidateCPUWeight)); err != nil {
		log.Warn("%v", err)
	}

	d.root, d.protected, d.candidate = root, protected, candidate
	log.Info("hierarchy ready at %s", root.Group)
	return nil
}

// prepareUsageLog creates the usage log's directory so wrapper
// invocations can append from the first tool call on.
func (d *Daemon) prepareUsageLog() {
	if d.cfg.UsageLog == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(d.cfg.UsageLog), 0o755); err != nil {
		log.Warn("failed to prepare usage log: %v", err)
	}
}

// reapEphemeral removes leftover per-command domains under both
// sessions. Domains with live members are skipped.
func (d *Daemon) reapEphemeral() {
	for _, session := range []*cgroups.Domain{d.protected, d.candidate} {
		entries, err := session.Group.Subgroups()
		if err != nil {
			continue
		}
		for _, name := range entries {
			if !strings.HasPrefix(name, ephemeralPrefix) {
				continue
			}
			stale := session.Group.Child(name)
			if pids, err := stale.Procs(); err == nil && len(pids) > 0 {
				continue
			}
			if err := stale.Remove(); err != nil {
				log.Warn("%v", err)
				continue
			}
			log.Info("reaped stale domain %s", stale)
		}
	}
}

// startHTTP serves /metrics and /healthz when an address is configured.
func (d *Daemon) startHTTP() {
	if d.cfg.HTTPAddr == "" {
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(memcg.NewCollector(d.controller))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	d.server = &http.Server{Addr: d.cfg.HTTPAddr, Handler: mux}
	go func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server: %v", err)
		}
	}()
	log.Info("serving metrics on %s", d.cfg.HTTPAddr)
}

// shutdown detaches the controller, reaps leftovers and removes the
// hierarchy. Best-effort throughout; the first error wins but every
// step runs.
func (d *Daemon) shutdown() error {
	log.Info("shutting down")

	firstErr := d.controller.Detach()
	d.reapEphemeral()

	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := d.root.Destroy(); err != nil {
		log.Warn("%v", err)
	}
	return firstErr
}
