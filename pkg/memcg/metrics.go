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

package memcg

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	protectionActiveDesc = prometheus.NewDesc(
		"agentcg_protection_active",
		"Whether the protection window is currently open (1) or not (0).",
		[]string{"backend"}, nil,
	)
	activationsDesc = prometheus.NewDesc(
		"agentcg_protection_activations_total",
		"Number of transitions into the protected state.",
		[]string{"backend"}, nil,
	)
	triggersDesc = prometheus.NewDesc(
		"agentcg_protection_triggers_total",
		"Number of pressure triggers, including window extensions.",
		[]string{"backend"}, nil,
	)
	controlWritesDesc = prometheus.NewDesc(
		"agentcg_control_writes_total",
		"Number of cgroup control-file writes by the polling backend.",
		[]string{"backend"}, nil,
	)
	kernelCallsDesc = prometheus.NewDesc(
		"agentcg_kernel_decision_calls_total",
		"Number of kernel policy decision-function invocations.",
		[]string{"hook"}, nil,
	)
	kernelActiveDesc = prometheus.NewDesc(
		"agentcg_kernel_decision_active_total",
		"Number of kernel policy decisions that enforced protection.",
		[]string{"hook"}, nil,
	)
)

// Collector exports controller statistics in Prometheus format.
type Collector struct {
	controller *Controller
}

// NewCollector creates a collector reading from the given controller.
func NewCollector(c *Controller) *Collector {
	return &Collector{controller: c}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- protectionActiveDesc
	ch <- activationsDesc
	ch <- triggersDesc
	ch <- controlWritesDesc
	ch <- kernelCallsDesc
	ch <- kernelActiveDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.controller.Stats()
	if stats.Backend == "" {
		return
	}

	active := 0.0
	if stats.ProtectionActive {
		active = 1.0
	}
	ch <- prometheus.MustNewConstMetric(protectionActiveDesc,
		prometheus.GaugeValue, active, stats.Backend)
	ch <- prometheus.MustNewConstMetric(activationsDesc,
		prometheus.CounterValue, float64(stats.Activations), stats.Backend)
	ch <- prometheus.MustNewConstMetric(triggersDesc,
		prometheus.CounterValue, float64(stats.Triggers), stats.Backend)
	ch <- prometheus.MustNewConstMetric(controlWritesDesc,
		prometheus.CounterValue, float64(stats.ControlWrites), stats.Backend)

	if k := stats.Kernel; k != nil {
		ch <- prometheus.MustNewConstMetric(kernelCallsDesc,
			prometheus.CounterValue, float64(k.ProtectedCalls), "reservation")
		ch <- prometheus.MustNewConstMetric(kernelActiveDesc,
			prometheus.CounterValue, float64(k.ProtectedActive), "reservation")
		ch <- prometheus.MustNewConstMetric(kernelCallsDesc,
			prometheus.CounterValue, float64(k.CandidateCalls), "delay")
		ch <- prometheus.MustNewConstMetric(kernelActiveDesc,
			prometheus.CounterValue, float64(k.CandidateActive), "delay")
	}
}
