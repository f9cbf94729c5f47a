// node.go - Relay node descriptors.
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

// Package pki provides the relay node descriptors shared by the relay
// pipeline, the routing graph and the reputation ledger.
package pki

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/net/idna"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/kem"
)

// NodeIDLength is the length of a NodeID in bytes.
const NodeIDLength = 32

// NodeID identifies a relay by the hash of its public key.
type NodeID [NodeIDLength]byte

// NodeIDFromPublicKey returns the NodeID of the relay holding pk.
func NodeIDFromPublicKey(pk kem.PublicKey) NodeID {
	return hash.Sum256From(pk)
}

// NodeIDFromBytes returns the NodeID of a serialized public key.
func NodeIDFromBytes(pk []byte) NodeID {
	return hash.Sum256(pk)
}

// String returns a short printable form of the NodeID.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:8])
}

// Role is the function a relay performs in the network.
type Role uint8

const (
	// RoleInvalid is the zero value and is never valid.
	RoleInvalid Role = iota

	// RoleEntry relays accept packets from clients.
	RoleEntry

	// RoleMix relays mix and forward.
	RoleMix

	// RoleExit relays peel the final layer and deliver the payload.
	RoleExit

	// RoleValidator nodes take part in scoring but do not relay.
	RoleValidator
)

var roleNames = map[Role]string{
	RoleEntry:     "entry",
	RoleMix:       "mix",
	RoleExit:      "exit",
	RoleValidator: "validator",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("[invalid role: %d]", uint8(r))
}

// IsRelay returns true if the role forwards packets.
func (r Role) IsRelay() bool {
	return r == RoleEntry || r == RoleMix || r == RoleExit
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if _, ok := roleNames[r]; !ok {
		return nil, fmt.Errorf("pki: invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRole parses a role name, ignoring case.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return RoleInvalid, fmt.Errorf("pki: invalid role '%v'", s)
}

// NodeInfo describes one relay.
type NodeInfo struct {
	// ID is the hash of PublicKey.
	ID NodeID

	// Layer is the topology layer, 1 to N.
	Layer int

	// Role is the relay's function.
	Role Role

	// Stake is the amount the operator has bonded.
	Stake uint64

	// Address is the host:port the relay's transport listens on.
	Address string

	// PublicKey is the serialized KEM public key.
	PublicKey []byte

	// Reputation is the most recent score published by the ledger.
	Reputation float64
}

// NewNodeInfo returns a NodeInfo for the public key, deriving the ID.
func NewNodeInfo(pk kem.PublicKey, layer int, role Role, stake uint64, address string) (*NodeInfo, error) {
	b, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &NodeInfo{
		ID:        NodeIDFromBytes(b),
		Layer:     layer,
		Role:      role,
		Stake:     stake,
		Address:   address,
		PublicKey: b,
	}, nil
}

// UnmarshalPublicKey deserializes the node's public key.
func (n *NodeInfo) UnmarshalPublicKey(scheme kem.Scheme) (kem.PublicKey, error) {
	if len(n.PublicKey) != scheme.PublicKeySize() {
		return nil, fmt.Errorf("pki: node %v: public key is not a %s key", n.ID, scheme.Name())
	}
	return scheme.UnmarshalBinaryPublicKey(n.PublicKey)
}

// String returns a human readable NodeInfo suitable for terse logging.
func (n *NodeInfo) String() string {
	return fmt.Sprintf("{%v %v L%d %v %.3f}", n.ID, n.Role, n.Layer, n.Address, n.Reputation)
}

type nodeinfo NodeInfo

// MarshalBinary implements encoding.BinaryMarshaler.
func (n *NodeInfo) MarshalBinary() ([]byte, error) {
	return cbor.Marshal((*nodeinfo)(n))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (n *NodeInfo) UnmarshalBinary(data []byte) error {
	return cbor.Unmarshal(data, (*nodeinfo)(n))
}

// IsNodeInfoWellFormed returns a descriptive error iff there are any
// problems that would make the NodeInfo unusable.  layers is the number of
// topology layers of the network.
func IsNodeInfoWellFormed(n *NodeInfo, layers int) error {
	if n == nil {
		return errors.New("NodeInfo is nil")
	}
	if len(n.PublicKey) == 0 {
		return errors.New("NodeInfo missing PublicKey")
	}
	if n.ID != NodeIDFromBytes(n.PublicKey) {
		return fmt.Errorf("NodeInfo %v: ID does not match PublicKey", n.ID)
	}
	if _, ok := roleNames[n.Role]; !ok {
		return fmt.Errorf("NodeInfo %v: %v", n.ID, n.Role)
	}
	if n.Layer < 1 || n.Layer > layers {
		return fmt.Errorf("NodeInfo %v: Layer %d out of range [1, %d]", n.ID, n.Layer, layers)
	}
	if n.Reputation < 0 || n.Reputation > 1 {
		return fmt.Errorf("NodeInfo %v: Reputation %v out of range", n.ID, n.Reputation)
	}
	if n.Address == "" {
		return nil
	}

	h, p, err := net.SplitHostPort(n.Address)
	if err != nil {
		return fmt.Errorf("NodeInfo %v: invalid address '%v': %v", n.ID, n.Address, err)
	}
	if len(h) == 0 {
		return fmt.Errorf("NodeInfo %v: invalid address '%v'", n.ID, n.Address)
	}
	if port, err := strconv.ParseUint(p, 10, 16); err != nil {
		return fmt.Errorf("NodeInfo %v: invalid address '%v': %v", n.ID, n.Address, err)
	} else if port == 0 {
		return fmt.Errorf("NodeInfo %v: invalid address '%v': port is 0", n.ID, n.Address)
	}
	if net.ParseIP(h) == nil {
		if _, err := idna.Lookup.ToASCII(h); err != nil {
			return fmt.Errorf("NodeInfo %v: invalid address '%v': %v", n.ID, n.Address, err)
		}
	}
	return nil
}
