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

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func scratchMount(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	SetMountPoint(dir)
	t.Cleanup(func() { SetMountPoint("/sys/fs/cgroup") })
	return dir
}

func TestNewGroup(t *testing.T) {
	mount := scratchMount(t)

	tcases := []struct {
		name    string
		path    string
		want    Group
		wantErr bool
	}{
		{
			name: "relative path",
			path: "session/high",
			want: Group("session/high"),
		},
		{
			name: "absolute path under the mount point",
			path: filepath.Join(mount, "session", "low"),
			want: Group("session/low"),
		},
		{
			name:    "absolute path outside the mount point",
			path:    "/proc/self",
			wantErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := NewGroup(tc.path)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, g)
		})
	}
}

func TestGroupPaths(t *testing.T) {
	mount := scratchMount(t)

	g := Group("session/high")
	require.Equal(t, filepath.Join(mount, "session/high"), g.Dir())
	require.Equal(t, "high", g.Name())
	require.Equal(t, Group("session"), g.Parent())
	require.Equal(t, Group("session/high/tool_1"), g.Child("tool_1"))
}

func TestGroupLifecycle(t *testing.T) {
	scratchMount(t)

	g := Group("session/high")
	require.False(t, g.Exists())
	require.NoError(t, g.Create())
	require.True(t, g.Exists())
	require.NoError(t, g.Create(), "creating an existing group is fine")
	require.NoError(t, g.Remove())
	require.False(t, g.Exists())
}

func TestGroupReadWrite(t *testing.T) {
	scratchMount(t)
	g := Group("session")
	require.NoError(t, g.Create())

	require.NoError(t, g.Write(MemoryHigh, "1048576"))
	v, err := g.Read(MemoryHigh)
	require.NoError(t, err)
	require.Equal(t, "1048576", v)

	n, ok, err := g.ReadInt(MemoryHigh)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1048576, n)

	require.NoError(t, g.Write(MemoryHigh, Max))
	_, ok, err = g.ReadInt(MemoryHigh)
	require.NoError(t, err)
	require.False(t, ok, `"max" reads as unconstrained`)

	require.NoError(t, g.Write(MemoryHigh, "garbage"))
	_, _, err = g.ReadInt(MemoryHigh)
	require.Error(t, err)
}

func TestGroupProcs(t *testing.T) {
	scratchMount(t)
	g := Group("session")
	require.NoError(t, g.Create())

	require.NoError(t, g.AddProcess(1234))
	pids, err := g.Procs()
	require.NoError(t, err)
	require.Equal(t, []int{1234}, pids)
}

func TestGroupSubgroups(t *testing.T) {
	scratchMount(t)
	g := Group("session")
	require.NoError(t, g.Create())
	require.NoError(t, g.Child("tool_1").Create())
	require.NoError(t, g.Child("tool_2").Create())
	require.NoError(t, g.Write(MemoryHigh, "0"))

	names, err := g.Subgroups()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tool_1", "tool_2"}, names)
}

func TestEnableControllers(t *testing.T) {
	scratchMount(t)
	g := Group("session")
	require.NoError(t, g.Create())

	require.NoError(t, g.EnableControllers("memory", "cpu"))
	v, err := g.Read(SubtreeControlFile)
	require.NoError(t, err)
	require.Equal(t, "+memory +cpu", v)
}

func TestMemoryParsing(t *testing.T) {
	scratchMount(t)
	g := Group("session")
	require.NoError(t, g.Create())

	require.NoError(t, g.Write(MemoryEvents, "low 1\nhigh 42\nmax 3\noom 0\noom_kill 2\n"))
	counts, err := g.MemoryEventCounts()
	require.NoError(t, err)
	require.EqualValues(t, 42, counts["high"])
	require.EqualValues(t, 2, counts["oom_kill"])

	require.NoError(t, g.Write(MemoryPressure,
		"some avg10=1.20 avg60=0.80 avg300=0.10 total=123456\n"+
			"full avg10=0.00 avg60=0.00 avg300=0.00 total=789\n"))
	total, err := g.MemoryStallTotal()
	require.NoError(t, err)
	require.EqualValues(t, 123456, total)

	require.NoError(t, g.Write(MemoryMax, "2147483648"))
	limit, limited, err := g.MemoryLimit()
	require.NoError(t, err)
	require.True(t, limited)
	require.EqualValues(t, 2147483648, limit)
}
