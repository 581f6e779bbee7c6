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

// agentexec runs one command inside its own ephemeral resource domain
// and exits with the command's status. With AGENTCG_DISABLE=1 it execs
// the command directly, adding no isolation boundary at all.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"golang.org/x/sys/unix"

	"github.com/agentcg/agentcg/pkg/cgroups"
	"github.com/agentcg/agentcg/pkg/ephemeral"
)

// defaultParent is the protected session: wrapped tool calls run on
// the primary workload's budget and must never be throttled as
// candidates.
const defaultParent = "agentcg/session_high"

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentexec: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		hint    string
		parent  string
		logPath string
	)

	cmd := &cobra.Command{
		Use:          "agentexec [flags] -- command [args...]",
		Short:        "Run a command in an ephemeral resource domain",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, argv []string) error {
			if ephemeral.Disabled() {
				return passthrough(argv)
			}

			group, err := cgroups.NewGroup(parent)
			if err != nil {
				return err
			}

			runner := ephemeral.NewRunner(group, ephemeral.NewLog(logPath))
			status, err := runner.Run(cmd.Context(), argv, ephemeral.ParseHint(hint))
			if err != nil {
				return err
			}
			os.Exit(status)
			return nil
		},
	}

	cmd.Flags().StringVar(&hint, "hint", "", "resource hint (memory:low, memory:medium, memory:high, memory:<N>g, memory:<N>m)")
	cmd.Flags().StringVar(&parent, "parent", defaultParent, "parent domain for the ephemeral domain")
	cmd.Flags().StringVar(&logPath, "log", "/var/log/agentcg/usage.jsonl", "usage log file")
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// passthrough replaces this process with the command, preserving
// arguments, environment and streams.
func passthrough(argv []string) error {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return err
	}
	return unix.Exec(path, argv, os.Environ())
}
