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

package ephemeral

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentcg/agentcg/pkg/cgroups"
)

var _ = Describe("DomainName", func() {
	It("generates distinct names under concurrent invocation", func() {
		const callers = 64

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			names = map[string]bool{}
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				name := DomainName()
				mu.Lock()
				names[name] = true
				mu.Unlock()
			}()
		}
		wg.Wait()

		Expect(names).To(HaveLen(callers))
		for name := range names {
			Expect(name).To(MatchRegexp(`^tool_\d+_\d+_\d+$`))
		}
	})
})

var _ = Describe("Runner", func() {
	var (
		parent cgroups.Group
		usage  *Log
		runner *Runner
		stderr *bytes.Buffer
	)

	BeforeEach(func() {
		cgroups.SetMountPoint(GinkgoT().TempDir())
		DeferCleanup(cgroups.SetMountPoint, "/sys/fs/cgroup")

		parent = cgroups.Group("session_low")
		Expect(parent.Create()).To(Succeed())

		usage = NewLog(filepath.Join(GinkgoT().TempDir(), "usage.jsonl"))
		runner = NewRunner(parent, usage)
		stderr = &bytes.Buffer{}
		runner.Stderr = stderr
	})

	readRecords := func() []Record {
		data, err := os.ReadFile(usage.Path())
		Expect(err).NotTo(HaveOccurred())
		var records []Record
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			var r Record
			Expect(json.Unmarshal([]byte(line), &r)).To(Succeed())
			records = append(records, r)
		}
		return records
	}

	It("runs an unhinted command and records its usage", func() {
		status, err := runner.Run(context.Background(), []string{"true"}, ParseHint(""))
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(0))

		records := readRecords()
		Expect(records).To(HaveLen(1))
		r := records[0]
		Expect(r.ExitStatus).To(Equal(0))
		Expect(r.Hint).To(BeEmpty())
		Expect(r.Command).To(Equal("true"))
		Expect(r.PID).To(Equal(os.Getpid()))
		Expect(r.Domain).To(HavePrefix("session_low/tool_"))
		Expect(r.PeakUsage).To(BeEquivalentTo(-1), "no accounting in the scratch tree")
	})

	It("returns the command's true exit status", func() {
		status, err := runner.Run(context.Background(), []string{"sh", "-c", "exit 3"}, ParseHint(""))
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(3))
		Expect(readRecords()[0].ExitStatus).To(Equal(3))
	})

	It("applies the hint as the domain's soft ceiling", func() {
		_, err := runner.Run(context.Background(), []string{"true"}, ParseHint("memory:low"))
		Expect(err).NotTo(HaveOccurred())

		r := readRecords()[0]
		Expect(r.Hint).To(Equal("memory:low"))
		domain := cgroups.Group(r.Domain)
		ceiling, err := domain.Read(cgroups.MemoryHigh)
		Expect(err).NotTo(HaveOccurred())
		Expect(ceiling).To(Equal(strconv.FormatInt(256<<20, 10)))
	})

	It("proceeds unconstrained when the domain cannot be created", func() {
		// a regular file where the parent should be makes every
		// domain creation fail
		blocked := cgroups.Group("blocked")
		Expect(os.WriteFile(blocked.Dir(), nil, 0o644)).To(Succeed())
		runner = NewRunner(blocked, usage)
		runner.Stderr = stderr

		status, err := runner.Run(context.Background(), []string{"true"}, ParseHint("memory:low"))
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(0), "isolation failure must not fail the command")
		Expect(readRecords()).To(HaveLen(1))
	})

	It("rejects an empty command", func() {
		_, err := runner.Run(context.Background(), nil, ParseHint(""))
		Expect(err).To(HaveOccurred())
	})

	Describe("cleanup", func() {
		It("removes the domain once it is empty", func() {
			inv := &invocation{
				runner: runner,
				domain: parent.Child(DomainName()),
			}
			inv.setup()
			Expect(inv.domain.Exists()).To(BeTrue())

			// the kernel drops virtual files on its own; the scratch
			// tree needs a hand
			Expect(os.Remove(filepath.Join(inv.domain.Dir(), cgroups.ProcsFile))).To(Succeed())

			inv.cleanup()
			Expect(inv.domain.Exists()).To(BeFalse())
		})
	})

	Describe("distress termination", func() {
		newOOMInvocation := func(peak int64, hint Hint) *invocation {
			inv := &invocation{
				runner: runner,
				domain: parent.Child(DomainName()),
				hint:   hint,
			}
			Expect(inv.domain.Create()).To(Succeed())
			Expect(inv.domain.Write(cgroups.MemoryPeak, strconv.FormatInt(peak, 10))).To(Succeed())
			Expect(inv.domain.Write(cgroups.MemoryEvents, "low 0\nhigh 9\nmax 4\noom 1\noom_kill 1\n")).To(Succeed())
			return inv
		}

		It("writes the downward diagnostic", func() {
			inv := newOOMInvocation(412<<20, ParseHint("memory:low"))
			inv.complete(137)

			out := stderr.String()
			Expect(out).To(ContainSubstring("exceeded its available memory budget"))
			Expect(out).To(ContainSubstring("peak usage: 412 MiB"))
			Expect(out).To(ContainSubstring("declare a larger budget"))
			Expect(out).To(ContainSubstring("retry-hint: memory:1g"))
		})

		It("suggests a budget covering twice the peak", func() {
			inv := newOOMInvocation(3<<30, ParseHint("memory:2g"))
			inv.complete(137)
			Expect(stderr.String()).To(ContainSubstring("retry-hint: memory:6g"))
		})

		It("stays quiet when the kill was not memory related", func() {
			inv := newOOMInvocation(100<<20, ParseHint(""))
			Expect(inv.domain.Write(cgroups.MemoryEvents, "low 0\nhigh 0\nmax 0\noom 0\noom_kill 0\n")).To(Succeed())
			inv.complete(137)
			Expect(stderr.String()).To(BeEmpty())
		})

		It("stays quiet on ordinary failure", func() {
			inv := newOOMInvocation(100<<20, ParseHint(""))
			inv.complete(1)
			Expect(stderr.String()).To(BeEmpty())
		})
	})
})
