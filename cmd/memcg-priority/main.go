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

// memcg-priority is a standalone loader for the kernel policy program.
// It attaches the reservation ops to a protected cgroup and the delay
// ops to candidate cgroups, then prints the decision-function counters
// once a second until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	flag "github.com/spf13/pflag"

	"golang.org/x/sys/unix"

	"github.com/agentcg/agentcg/pkg/bpf"
	"github.com/agentcg/agentcg/pkg/cgroups"
	logger "github.com/agentcg/agentcg/pkg/log"
)

func main() {
	var (
		protected  = flag.String("protected", "", "protected cgroup path")
		candidates = flag.StringArray("candidate", nil, "candidate cgroup path, repeatable")
		object     = flag.String("obj", "memcg_priority.bpf.o", "compiled policy object")
		delayMS    = flag.Uint32("delay-ms", 50, "allocation delay for candidates over their ceiling")
		threshold  = flag.Uint64("threshold", 1, "event count opening the protection window")
		belowLow   = flag.Bool("below-low", true, "report protected cgroup below memory.low under pressure")
		belowMin   = flag.Bool("below-min", false, "report protected cgroup below memory.min under pressure")
		verbose    = flag.BoolP("verbose", "v", false, "enable debug logging")
	)
	flag.Parse()

	logger.EnableDebug(*verbose)
	if *protected == "" || len(*candidates) == 0 {
		fmt.Fprintln(os.Stderr, "memcg-priority: --protected and at least one --candidate are required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*object, *protected, *candidates, *delayMS, *threshold, *belowLow, *belowMin); err != nil {
		fmt.Fprintf(os.Stderr, "memcg-priority: %v\n", err)
		os.Exit(1)
	}
}

func run(object, protected string, candidates []string, delayMS uint32, threshold uint64, belowLow, belowMin bool) error {
	group, err := cgroups.NewGroup(protected)
	if err != nil {
		return err
	}
	id, err := group.ID()
	if err != nil {
		return err
	}

	prog, err := bpf.Load(bpf.Config{
		ObjectPath:        object,
		ProtectedCgroupID: id,
		Threshold:         threshold,
		DelayMS:           delayMS,
		BelowLow:          belowLow,
		BelowMin:          belowMin,
	})
	if err != nil {
		return err
	}
	defer prog.Close()

	if err := prog.AttachProtected(group.Dir()); err != nil {
		return err
	}
	fmt.Printf("protected: %s (id %d)\n", group.Dir(), id)

	for _, c := range candidates {
		g, err := cgroups.NewGroup(c)
		if err != nil {
			return err
		}
		if err := prog.AttachCandidate(g.Dir()); err != nil {
			return err
		}
		fmt.Printf("candidate: %s\n", g.Dir())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGINT, unix.SIGTERM)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	fmt.Println("policy attached, ctrl-c to detach")
	for {
		select {
		case <-sig:
			printStats(prog)
			return nil
		case <-ticker.C:
			printStats(prog)
		}
	}
}

func printStats(prog *bpf.Program) {
	stats, err := prog.ReadStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "memcg-priority: %v\n", err)
		return
	}
	fmt.Printf("delay: %d/%d active, reservation: %d/%d active\n",
		stats.DelayActive, stats.DelayCalls,
		stats.BelowLowActive, stats.BelowLowCalls)
}
