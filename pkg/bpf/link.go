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

package bpf

import (
	"fmt"
	"unsafe"

	"github.com/cilium/ebpf"

	"golang.org/x/sys/unix"
)

// attachTypeStructOps is BPF_STRUCT_OPS from enum bpf_attach_type.
const attachTypeStructOps = 44

// linkCreateAttr is the link_create portion of union bpf_attr. For
// struct_ops the map fd goes into the leading union slot and the target
// cgroup fd selects where the ops bind.
type linkCreateAttr struct {
	mapFd      uint32
	targetFd   uint32
	attachType uint32
	flags      uint32
}

// structOpsLink pins a struct_ops map to a cgroup. The ops detach when
// the link fd closes.
type structOpsLink struct {
	fd int
}

// attachStructOps creates a struct_ops link bound to the given cgroup
// directory fd. The ebpf library has no helper for a cgroup-targeted
// struct_ops link, so this issues BPF_LINK_CREATE directly.
func attachStructOps(m *ebpf.Map, cgroupFd int) (*structOpsLink, error) {
	attr := linkCreateAttr{
		mapFd:      uint32(m.FD()),
		targetFd:   uint32(cgroupFd),
		attachType: attachTypeStructOps,
	}
	fd, _, errno := unix.Syscall(unix.SYS_BPF, unix.BPF_LINK_CREATE,
		uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr))
	if errno != 0 {
		return nil, fmt.Errorf("BPF_LINK_CREATE: %w", errno)
	}
	return &structOpsLink{fd: int(fd)}, nil
}

// Close detaches the ops from the cgroup.
func (l *structOpsLink) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}
