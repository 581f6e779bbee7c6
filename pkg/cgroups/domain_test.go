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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomainHierarchy(t *testing.T) {
	scratchMount(t)

	root, err := NewRootDomain("agentcg")
	require.NoError(t, err)
	require.True(t, root.Exists())
	require.Nil(t, root.Parent())

	session, err := root.NewChild("session_high", KindSession, ClassProtected)
	require.NoError(t, err)
	require.True(t, session.Exists())
	require.Same(t, root, session.Parent())
	require.Len(t, root.Children(), 1)

	tool, err := session.NewChild("tool_1", KindEphemeral, ClassNone)
	require.NoError(t, err)

	_, err = tool.NewChild("nested", KindEphemeral, ClassNone)
	require.Error(t, err, "ephemeral domains are leaves")
}

func TestDomainDestroy(t *testing.T) {
	scratchMount(t)

	root, err := NewRootDomain("agentcg")
	require.NoError(t, err)
	session, err := root.NewChild("session_low", KindSession, ClassCandidate)
	require.NoError(t, err)
	tool, err := session.NewChild("tool_1", KindEphemeral, ClassNone)
	require.NoError(t, err)

	require.NoError(t, root.Destroy())
	require.False(t, tool.Exists())
	require.False(t, session.Exists())
	require.False(t, root.Exists())
}

func TestDomainDestroyDetachesFromParent(t *testing.T) {
	scratchMount(t)

	root, err := NewRootDomain("agentcg")
	require.NoError(t, err)
	high, err := root.NewChild("session_high", KindSession, ClassProtected)
	require.NoError(t, err)
	low, err := root.NewChild("session_low", KindSession, ClassCandidate)
	require.NoError(t, err)

	require.NoError(t, low.Destroy())
	require.Equal(t, []*Domain{high}, root.Children())
	require.True(t, high.Exists())
}
