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

// agentcgd is the memory isolation daemon. It owns the resource-domain
// hierarchy, protects the primary workload session against memory
// pressure from deprioritized sessions, and serves controller
// statistics over HTTP.
package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"golang.org/x/sys/unix"

	"github.com/agentcg/agentcg/pkg/daemon"
	logger "github.com/agentcg/agentcg/pkg/log"
	"github.com/agentcg/agentcg/pkg/memcg"
)

func main() {
	var (
		configPath string
		backend    string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:          "agentcgd",
		Short:        "Priority-aware memory isolation daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger.EnableDebug(debug)

			cfg, err := daemon.ReadConfig(configPath)
			if err != nil {
				return err
			}
			if backend != "" {
				cfg.Memcg.Backend = memcg.BackendKind(backend)
			}

			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
			defer stop()
			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file")
	cmd.Flags().StringVar(&backend, "backend", "", "force enforcement backend (kernel, polling)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentcgd: %v\n", err)
		os.Exit(1)
	}
}
