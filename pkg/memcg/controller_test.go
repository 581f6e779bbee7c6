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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcg/agentcg/pkg/cgroups"
)

// fakeBackend records lifecycle calls and fails attach on demand.
type fakeBackend struct {
	name      string
	attachErr error
	attached  bool
	polls     int
	detached  bool
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Attach(Pairing) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = true
	return nil
}
func (f *fakeBackend) Poll() error   { f.polls++; return nil }
func (f *fakeBackend) Detach() error { f.detached = true; return nil }
func (f *fakeBackend) Stats() Stats  { return Stats{Backend: f.name} }

func newTestController(t *testing.T, kind BackendKind, kernel, polling *fakeBackend) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend = kind
	c, err := NewController(cfg)
	require.NoError(t, err)
	c.newKernel = func(Config) Backend { return kernel }
	c.newPolling = func(Config) Backend { return polling }
	return c
}

var testPairing = Pairing{Protected: cgroups.Group("session/high")}

func TestControllerBackendSelection(t *testing.T) {
	unavailable := fmt.Errorf("%w: no struct_ops", ErrBackendUnavailable)
	tcases := []struct {
		name        string
		kind        BackendKind
		kernelErr   error
		wantBackend string
		wantErr     error
	}{
		{
			name:        "auto prefers kernel",
			kind:        BackendAuto,
			wantBackend: "kernel",
		},
		{
			name:        "auto falls back when kernel unavailable",
			kind:        BackendAuto,
			kernelErr:   unavailable,
			wantBackend: "polling",
		},
		{
			name:      "auto does not mask other kernel errors",
			kind:      BackendAuto,
			kernelErr: errors.New("bad pairing"),
			wantErr:   errors.New("bad pairing"),
		},
		{
			name:        "forced kernel never falls back",
			kind:        BackendKernel,
			kernelErr:   unavailable,
			wantErr:     ErrBackendUnavailable,
			wantBackend: "",
		},
		{
			name:        "forced polling skips probing",
			kind:        BackendPolling,
			wantBackend: "polling",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			kernel := &fakeBackend{name: "kernel", attachErr: tc.kernelErr}
			polling := &fakeBackend{name: "polling"}
			c := newTestController(t, tc.kind, kernel, polling)

			err := c.Attach(testPairing)
			if tc.wantErr != nil {
				require.Error(t, err)
				require.False(t, c.Attached())
				return
			}
			require.NoError(t, err)
			require.True(t, c.Attached())
			require.Equal(t, tc.wantBackend, c.Stats().Backend)
		})
	}
}

func TestControllerLifecycle(t *testing.T) {
	kernel := &fakeBackend{name: "kernel"}
	polling := &fakeBackend{name: "polling"}
	c := newTestController(t, BackendAuto, kernel, polling)

	require.ErrorIs(t, c.Poll(), ErrNotAttached)
	require.Equal(t, Stats{}, c.Stats())
	require.NoError(t, c.Detach(), "detach without attach is a no-op")

	require.NoError(t, c.Attach(testPairing))
	require.ErrorIs(t, c.Attach(testPairing), ErrAlreadyAttached)

	require.NoError(t, c.Poll())
	require.NoError(t, c.Poll())
	require.Equal(t, 2, kernel.polls)

	require.NoError(t, c.Detach())
	require.True(t, kernel.detached)
	require.False(t, c.Attached())
	require.ErrorIs(t, c.Poll(), ErrNotAttached)
}

func TestControllerRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "hardware"
	_, err := NewController(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.UsageRatio = 1.5
	_, err = NewController(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
