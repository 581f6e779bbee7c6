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

package cgroups

import "fmt"

// Kind classifies a resource domain by its lifetime.
type Kind int

const (
	// KindRoot is the daemon-owned root of the hierarchy.
	KindRoot Kind = iota
	// KindSession is a domain living for a whole agent session.
	KindSession
	// KindEphemeral is a per-command domain, always a leaf.
	KindEphemeral
)

// PriorityClass tells which side of the isolation policy a domain is on.
type PriorityClass int

const (
	// ClassNone marks domains the policy leaves alone.
	ClassNone PriorityClass = iota
	// ClassProtected marks the domain whose completion is prioritized.
	ClassProtected
	// ClassCandidate marks domains throttled to protect the protected one.
	ClassCandidate
)

// Domain is a resource domain in the daemon-owned hierarchy. A parent
// exclusively owns its children; a domain cannot outlive its parent.
type Domain struct {
	Group
	Kind     Kind
	Class    PriorityClass
	parent   *Domain
	children []*Domain
}

// NewRootDomain creates the root domain of a hierarchy at the given
// cgroup path.
func NewRootDomain(path string) (*Domain, error) {
	g, err := NewGroup(path)
	if err != nil {
		return nil, err
	}
	d := &Domain{Group: g, Kind: KindRoot, Class: ClassNone}
	if err := d.Create(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewChild creates a child domain of the given kind and class.
func (d *Domain) NewChild(name string, kind Kind, class PriorityClass) (*Domain, error) {
	if d.Kind == KindEphemeral {
		return nil, fmt.Errorf("cgroups: ephemeral domain %s cannot have children", d.Group)
	}
	child := &Domain{
		Group:  d.Group.Child(name),
		Kind:   kind,
		Class:  class,
		parent: d,
	}
	if err := child.Create(); err != nil {
		return nil, err
	}
	d.children = append(d.children, child)
	return child, nil
}

// Parent returns the owning domain, nil for the root.
func (d *Domain) Parent() *Domain {
	return d.parent
}

// Children returns the domains owned by this one.
func (d *Domain) Children() []*Domain {
	return d.children
}

// Destroy removes the domain and all of its children, leaves first.
// The first error encountered is returned, but removal continues past
// failing children.
func (d *Domain) Destroy() error {
	var firstErr error
	for _, child := range d.children {
		if err := child.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.children = nil
	if err := d.Remove(); err != nil && firstErr == nil {
		firstErr = err
	}
	if d.parent != nil {
		siblings := d.parent.children[:0]
		for _, c := range d.parent.children {
			if c != d {
				siblings = append(siblings, c)
			}
		}
		d.parent.children = siblings
	}
	return firstErr
}
