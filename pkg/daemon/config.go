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

package daemon

import (
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/agentcg/agentcg/pkg/memcg"
)

// Config is the daemon configuration, read from a YAML file.
type Config struct {
	// CgroupRoot is the daemon-owned hierarchy root, relative to the
	// cgroup mount point.
	CgroupRoot string `json:"cgroupRoot,omitempty"`
	// PollInterval is the controller tick interval.
	PollInterval memcg.Duration `json:"pollInterval,omitempty"`
	// HTTPAddr is the metrics and health endpoint address. Empty
	// disables the HTTP server.
	HTTPAddr string `json:"httpAddr,omitempty"`
	// UsageLog is the ephemeral-domain usage log file.
	UsageLog string `json:"usageLog,omitempty"`
	// ProtectedCPUWeight is the protected session's cpu.weight.
	ProtectedCPUWeight int `json:"protectedCpuWeight,omitempty"`
	// CandidateCPUWeight is the candidate session's cpu.weight.
	CandidateCPUWeight int `json:"candidateCpuWeight,omitempty"`
	// Memcg holds the isolation controller tunables.
	Memcg memcg.Config `json:"memcg,omitempty"`
}

// DefaultConfig returns the configuration the daemon runs with when no
// file overrides it.
func DefaultConfig() Config {
	return Config{
		CgroupRoot:         "agentcg",
		PollInterval:       memcg.Duration(100 * time.Millisecond),
		HTTPAddr:           ":8891",
		UsageLog:           "/var/log/agentcg/usage.jsonl",
		ProtectedCPUWeight: 150,
		CandidateCPUWeight: 50,
		Memcg:              memcg.DefaultConfig(),
	}
}

// ReadConfig loads a YAML config file over the defaults. A missing
// path returns the defaults unchanged.
func ReadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("daemon: failed to read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("daemon: failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for nonsensical values.
func (c *Config) Validate() error {
	if c.CgroupRoot == "" {
		return fmt.Errorf("daemon: empty cgroup root")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("daemon: poll interval %v", time.Duration(c.PollInterval))
	}
	if c.ProtectedCPUWeight < 1 || c.ProtectedCPUWeight > 10000 {
		return fmt.Errorf("daemon: protected cpu weight %d out of range", c.ProtectedCPUWeight)
	}
	if c.CandidateCPUWeight < 1 || c.CandidateCPUWeight > 10000 {
		return fmt.Errorf("daemon: candidate cpu weight %d out of range", c.CandidateCPUWeight)
	}
	return c.Memcg.Validate()
}
