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
	"sync"

	logger "github.com/agentcg/agentcg/pkg/log"
)

var log = logger.Get("memcg")

// Controller owns backend selection and the attach lifecycle for one
// pairing. With the auto backend it tries the kernel backend first and
// falls back to polling when attach reports ErrBackendUnavailable; a
// forced backend never falls back.
type Controller struct {
	sync.Mutex

	cfg     Config
	backend Backend
	pairing Pairing

	// newKernel/newPolling are swappable for tests.
	newKernel  func(Config) Backend
	newPolling func(Config) Backend
}

// NewController creates a controller with the given tunables.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:        cfg,
		newKernel:  func(cfg Config) Backend { return NewKernelBackend(cfg) },
		newPolling: func(cfg Config) Backend { return NewPollingBackend(cfg) },
	}, nil
}

// Attach selects a backend and starts protecting the pairing.
func (c *Controller) Attach(pairing Pairing) error {
	c.Lock()
	defer c.Unlock()

	if c.backend != nil {
		return ErrAlreadyAttached
	}
	if err := pairing.Validate(); err != nil {
		return err
	}

	backend, err := c.attachBackend(pairing)
	if err != nil {
		return err
	}

	c.backend = backend
	c.pairing = pairing
	log.Info("isolation active, backend %s", backend.Name())
	return nil
}

func (c *Controller) attachBackend(pairing Pairing) (Backend, error) {
	switch c.cfg.Backend {
	case BackendKernel:
		b := c.newKernel(c.cfg)
		if err := b.Attach(pairing); err != nil {
			return nil, err
		}
		return b, nil

	case BackendPolling:
		b := c.newPolling(c.cfg)
		if err := b.Attach(pairing); err != nil {
			return nil, err
		}
		return b, nil

	case "", BackendAuto:
		b := c.newKernel(c.cfg)
		err := b.Attach(pairing)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
		log.Info("kernel backend unavailable (%v), falling back to polling", err)
		b = c.newPolling(c.cfg)
		if err := b.Attach(pairing); err != nil {
			return nil, err
		}
		return b, nil
	}

	return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.cfg.Backend)
}

// Poll advances the active backend by one tick.
func (c *Controller) Poll() error {
	c.Lock()
	defer c.Unlock()

	if c.backend == nil {
		return ErrNotAttached
	}
	return c.backend.Poll()
}

// Detach stops protection and restores default policy knobs. Safe to
// call when not attached.
func (c *Controller) Detach() error {
	c.Lock()
	defer c.Unlock()

	if c.backend == nil {
		return nil
	}
	err := c.backend.Detach()
	c.backend = nil
	return err
}

// Attached reports whether a backend is active.
func (c *Controller) Attached() bool {
	c.Lock()
	defer c.Unlock()
	return c.backend != nil
}

// Stats returns a snapshot of the active backend's statistics, or a
// zero snapshot when detached.
func (c *Controller) Stats() Stats {
	c.Lock()
	defer c.Unlock()

	if c.backend == nil {
		return Stats{}
	}
	return c.backend.Stats()
}
