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

import "time"

// Status is the protection status of a pairing.
type Status int

const (
	// StatusNormal means no protection policy is applied.
	StatusNormal Status = iota
	// StatusProtected means protection policy is active until expiry.
	StatusProtected
)

// String returns the status name.
func (s Status) String() string {
	if s == StatusProtected {
		return "PROTECTED"
	}
	return "NORMAL"
}

// StateMachine drives the protection window for one pairing. Transitions:
// NORMAL to PROTECTED on a trigger (policy applied once), PROTECTED to
// NORMAL on expiry with no intervening trigger (policy restored). A
// trigger while PROTECTED slides the expiry forward without reapplying
// the already-active policy.
//
// The machine is not safe for concurrent use; the owning backend
// serializes Tick calls.
type StateMachine struct {
	window  time.Duration
	apply   func() error
	restore func() error
	now     func() time.Time

	status      Status
	activatedAt time.Time
	expiresAt   time.Time
	triggers    uint64
}

// NewStateMachine creates a state machine with the given protection
// window. apply is called on the NORMAL to PROTECTED transition and
// restore on the way back; both may be nil.
func NewStateMachine(window time.Duration, apply, restore func() error) *StateMachine {
	return &StateMachine{
		window:  window,
		apply:   apply,
		restore: restore,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests use this to step through
// the protection window deterministically.
func (m *StateMachine) SetClock(now func() time.Time) {
	m.now = now
}

// Tick advances the machine with the latest detector verdict. It
// returns an error only from the apply/restore callbacks; the
// transition itself always happens.
func (m *StateMachine) Tick(triggered bool) error {
	now := m.now()

	switch m.status {
	case StatusNormal:
		if !triggered {
			return nil
		}
		m.status = StatusProtected
		m.activatedAt = now
		m.expiresAt = now.Add(m.window)
		m.triggers++
		if m.apply != nil {
			return m.apply()
		}

	case StatusProtected:
		if triggered {
			m.expiresAt = now.Add(m.window)
			m.triggers++
			return nil
		}
		if !now.Before(m.expiresAt) {
			m.status = StatusNormal
			if m.restore != nil {
				return m.restore()
			}
		}
	}
	return nil
}

// Reset forces the machine back to NORMAL, invoking restore if
// protection was active.
func (m *StateMachine) Reset() error {
	if m.status != StatusProtected {
		return nil
	}
	m.status = StatusNormal
	if m.restore != nil {
		return m.restore()
	}
	return nil
}

// Status returns the current protection status.
func (m *StateMachine) Status() Status {
	return m.status
}

// ActivatedAt returns when the current or last protection window began.
func (m *StateMachine) ActivatedAt() time.Time {
	return m.activatedAt
}

// ExpiresAt returns the current expiry deadline.
func (m *StateMachine) ExpiresAt() time.Time {
	return m.expiresAt
}

// Triggers returns how many triggers the machine has seen.
func (m *StateMachine) Triggers() uint64 {
	return m.triggers
}
