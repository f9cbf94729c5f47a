// node_test.go - Relay node descriptor tests.
// Copyright (C) 2022  Yawning Angel, masala, David Stainton
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package pki

import (
	"testing"

	"github.com/katzenpost/hpqc/kem/mlkem768"
	"github.com/stretchr/testify/require"
)

func TestRole(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	for _, r := range []Role{RoleEntry, RoleMix, RoleExit, RoleValidator} {
		b, err := r.MarshalText()
		require.NoError(err)
		var r2 Role
		require.NoError(r2.UnmarshalText(b))
		require.Equal(r, r2)
	}

	r, err := ParseRole(" Exit ")
	require.NoError(err)
	require.Equal(RoleExit, r)
	require.True(r.IsRelay())
	require.False(RoleValidator.IsRelay())

	_, err = ParseRole("gateway")
	require.Error(err)
	_, err = RoleInvalid.MarshalText()
	require.Error(err)
}

func TestNodeInfo(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	pk, _, err := mlkem768.Scheme().GenerateKeyPair()
	require.NoError(err)

	n, err := NewNodeInfo(pk, 2, RoleMix, 100, "127.0.0.1:3219")
	require.NoError(err)
	require.Equal(NodeIDFromPublicKey(pk), n.ID)
	require.NoError(IsNodeInfoWellFormed(n, 3))

	pk2, err := n.UnmarshalPublicKey(mlkem768.Scheme())
	require.NoError(err)
	require.True(pk.Equal(pk2))

	b, err := n.MarshalBinary()
	require.NoError(err)
	n2 := new(NodeInfo)
	require.NoError(n2.UnmarshalBinary(b))
	require.Equal(n, n2)

	bad := *n
	bad.Layer = 4
	require.Error(IsNodeInfoWellFormed(&bad, 3))

	bad = *n
	bad.Address = "relay.example:0"
	require.Error(IsNodeInfoWellFormed(&bad, 3))

	bad = *n
	bad.Address = "relay.example.org:4242"
	require.NoError(IsNodeInfoWellFormed(&bad, 3))

	bad = *n
	bad.ID[0] ^= 0xff
	require.Error(IsNodeInfoWellFormed(&bad, 3))

	bad = *n
	bad.Role = RoleInvalid
	require.Error(IsNodeInfoWellFormed(&bad, 3))
}
