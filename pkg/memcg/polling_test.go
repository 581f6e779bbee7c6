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
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcg/agentcg/pkg/cgroups"
)

const parentLimit = int64(1) << 32 // 4 GiB

// pollingFixture builds a fake hierarchy with one candidate and an
// attached polling backend whose clock the test controls.
func pollingFixture(t *testing.T) (b *PollingBackend, protected, candidate cgroups.Group, now *time.Time) {
	t.Helper()
	parent, protected := fakeTree(t)
	candidate = parent.Child("low")
	require.NoError(t, candidate.Create())
	require.NoError(t, parent.Write(cgroups.MemoryMax, strconv.FormatInt(parentLimit, 10)))
	writePressure(t, parent, 0)

	b = NewPollingBackend(DefaultConfig())
	require.NoError(t, b.Attach(Pairing{
		Protected:  protected,
		Candidates: []cgroups.Group{candidate},
	}))
	t.Cleanup(func() { _ = b.Detach() })

	clock := time.Now()
	now = &clock
	b.StateMachine().SetClock(func() time.Time { return *now })
	return b, protected, candidate, now
}

func readKnob(t *testing.T, g cgroups.Group, file string) string {
	t.Helper()
	v, err := g.Read(file)
	require.NoError(t, err)
	return v
}

func TestPollingProtectionCycle(t *testing.T) {
	b, protected, candidate, now := pollingFixture(t)
	parent := protected.Parent()

	// attach resets the pairing to the normal state
	require.Equal(t, "0", readKnob(t, protected, cgroups.MemoryLow))
	require.Equal(t, cgroups.Max, readKnob(t, candidate, cgroups.MemoryHigh))

	writePressure(t, parent, 5000)
	require.NoError(t, b.Poll())

	require.Equal(t, StatusProtected, b.StateMachine().Status())
	limitF := float64(parentLimit)
	wantLow := strconv.FormatInt(int64(limitF*0.80), 10)
	wantHigh := strconv.FormatInt(int64(limitF*0.125), 10)
	require.Equal(t, wantLow, readKnob(t, protected, cgroups.MemoryLow))
	require.Equal(t, wantHigh, readKnob(t, candidate, cgroups.MemoryHigh))

	stats := b.Stats()
	require.True(t, stats.ProtectionActive)
	require.EqualValues(t, 1, stats.Activations)
	require.Contains(t, stats.LastTrigger, "psi")

	// window expires with no further trigger
	*now = now.Add(2 * time.Second)
	require.NoError(t, b.Poll())
	require.Equal(t, StatusNormal, b.StateMachine().Status())
	require.Equal(t, "0", readKnob(t, protected, cgroups.MemoryLow))
	require.Equal(t, cgroups.Max, readKnob(t, candidate, cgroups.MemoryHigh))
}

func TestPollingIdempotence(t *testing.T) {
	b, protected, _, _ := pollingFixture(t)
	parent := protected.Parent()

	writePressure(t, parent, 5000)
	require.NoError(t, b.Poll())
	writesAfterActivation := b.Stats().ControlWrites

	// steady protection: repeated polls must not rewrite anything
	for i := 0; i < 10; i++ {
		writePressure(t, parent, int64(5000+1000*(i+1)))
		require.NoError(t, b.Poll())
	}
	require.Equal(t, writesAfterActivation, b.Stats().ControlWrites)
	require.Equal(t, StatusProtected, b.StateMachine().Status())
}

func TestPollingFallbackCeilings(t *testing.T) {
	b, protected, candidate, _ := pollingFixture(t)
	parent := protected.Parent()

	// no parent limit to derive shares from
	require.NoError(t, parent.Write(cgroups.MemoryMax, cgroups.Max))
	writePressure(t, parent, 5000)
	require.NoError(t, b.Poll())

	require.Equal(t, strconv.FormatInt(fallbackReservation, 10), readKnob(t, protected, cgroups.MemoryLow))
	require.Equal(t, strconv.FormatInt(fallbackCeiling, 10), readKnob(t, candidate, cgroups.MemoryHigh))
}

func TestPollingDetachRestores(t *testing.T) {
	parent, protected := fakeTree(t)
	candidate := parent.Child("low")
	require.NoError(t, candidate.Create())
	require.NoError(t, parent.Write(cgroups.MemoryMax, strconv.FormatInt(parentLimit, 10)))
	writePressure(t, parent, 0)

	// pre-existing ceilings must survive an attach/protect/detach cycle
	require.NoError(t, protected.Write(cgroups.MemoryLow, "12345"))
	require.NoError(t, candidate.Write(cgroups.MemoryHigh, "67890"))

	b := NewPollingBackend(DefaultConfig())
	pairing := Pairing{Protected: protected, Candidates: []cgroups.Group{candidate}}
	require.NoError(t, b.Attach(pairing))

	writePressure(t, parent, 5000)
	require.NoError(t, b.Poll())
	require.Equal(t, StatusProtected, b.StateMachine().Status())

	require.NoError(t, b.Detach())
	require.Equal(t, "12345", readKnob(t, protected, cgroups.MemoryLow))
	require.Equal(t, "67890", readKnob(t, candidate, cgroups.MemoryHigh))

	// detach is idempotent and reattach works
	require.NoError(t, b.Detach())
	require.NoError(t, b.Attach(pairing))
	require.NoError(t, b.Detach())
}

func TestPollingLifecycleErrors(t *testing.T) {
	_, protected := fakeTree(t)

	b := NewPollingBackend(DefaultConfig())
	require.ErrorIs(t, b.Poll(), ErrNotAttached)
	require.ErrorIs(t, b.Attach(Pairing{}), ErrNoProtectedDomain)

	require.NoError(t, b.Attach(Pairing{Protected: protected}))
	require.ErrorIs(t, b.Attach(Pairing{Protected: protected}), ErrAlreadyAttached)
	require.NoError(t, b.Detach())
}
