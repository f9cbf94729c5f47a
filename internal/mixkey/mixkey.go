// mixkey.go - Relay keys and associated utilities.
// Copyright (C) 2017  Yawning Angel.
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

// Package mixkey provides persistent relay keys and replay detection.
package mixkey

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yawning/bloom"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/kem/pem"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/outfox/core/outfox"
	"github.com/katzenpost/outfox/core/outfox/crypto"
)

const (
	// TagLength is the replay tag length in bytes.
	TagLength = 32

	// PrivateKeyFile is the name of the relay private key file.
	PrivateKeyFile = "relay.private.pem"

	// PublicKeyFile is the name of the relay public key file.
	PublicKeyFile = "relay.public.pem"

	falsePositiveRate = 0.001
)

// ErrNoKey is the error returned by Load when no key exists and generation
// was not requested.
var ErrNoKey = errors.New("mixkey: no relay key in data directory")

// MixKey is a relay's KEM key pair and the replay filter for packets
// processed with it.
type MixKey struct {
	sync.Mutex

	keypair *crypto.KeyPair

	f          *bloom.Filter
	filterSize int
	rotations  int
}

// KeyPair returns the relay key pair.
func (k *MixKey) KeyPair() *crypto.KeyPair {
	return k.keypair
}

// PublicKey returns the public component of the key.
func (k *MixKey) PublicKey() kem.PublicKey {
	return k.keypair.Public
}

// PrivateKey returns the private component of the key.
func (k *MixKey) PrivateKey() kem.PrivateKey {
	return k.keypair.Private
}

// ReplayTag returns the replay tag of a packet about to be processed at the
// given layer.
func ReplayTag(pkt *outfox.Packet) [TagLength]byte {
	b := make([]byte, 0, outfox.IDLength+1)
	b = append(b, pkt.Metadata.PacketID[:]...)
	b = append(b, pkt.Metadata.Layer)
	return hash.Sum256(b)
}

// IsReplay marks a given replay tag as seen, and returns true iff the tag has
// been seen previously (Test and Set).
func (k *MixKey) IsReplay(rawTag []byte) bool {
	// Treat all pathologically malformed tags as replays.
	if len(rawTag) != TagLength {
		return true
	}

	k.Lock()
	defer k.Unlock()

	// A saturated filter's false positive rate climbs without bound, so
	// start over with an empty one.
	if k.f.Entries() >= k.f.MaxEntries() {
		f, err := bloom.New(rand.Reader, k.filterSize, falsePositiveRate)
		if err != nil {
			panic("BUG: mixkey: failed to rotate replay filter: " + err.Error())
		}
		k.f = f
		k.rotations++
	}
	return k.f.TestAndSet(rawTag)
}

// Rotations returns how many times the replay filter was replaced after
// filling up.
func (k *MixKey) Rotations() int {
	k.Lock()
	defer k.Unlock()
	return k.rotations
}

func newMixKey(kp *crypto.KeyPair, filterSize int) (*MixKey, error) {
	f, err := bloom.New(rand.Reader, filterSize, falsePositiveRate)
	if err != nil {
		return nil, err
	}
	return &MixKey{
		keypair:    kp,
		f:          f,
		filterSize: filterSize,
	}, nil
}

// New creates an ephemeral mix key.  filterSize is the log2 of the replay
// filter size in bits.
func New(scheme kem.Scheme, filterSize int) (*MixKey, error) {
	kp, err := crypto.GenerateKeyPair(scheme)
	if err != nil {
		return nil, err
	}
	return newMixKey(kp, filterSize)
}

// Load loads the mix key stored in dataDir.  If there is none and generate
// is set, a new key is created and written to dataDir.
func Load(dataDir string, scheme kem.Scheme, filterSize int, generate bool) (*MixKey, error) {
	privFile := filepath.Join(dataDir, PrivateKeyFile)

	_, err := os.Stat(privFile)
	switch {
	case err == nil:
		sk, err := pem.FromPrivatePEMFile(privFile, scheme)
		if err != nil {
			return nil, fmt.Errorf("mixkey: failed to load '%v': %v", privFile, err)
		}
		return newMixKey(&crypto.KeyPair{Public: sk.Public(), Private: sk}, filterSize)
	case !os.IsNotExist(err):
		return nil, err
	case !generate:
		return nil, ErrNoKey
	}

	k, err := New(scheme, filterSize)
	if err != nil {
		return nil, err
	}
	if err := Store(dataDir, k.keypair); err != nil {
		return nil, err
	}
	return k, nil
}

// Store writes the key pair to dataDir as PEM files.
func Store(dataDir string, kp *crypto.KeyPair) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return err
	}
	if err := pem.PrivateKeyToFile(filepath.Join(dataDir, PrivateKeyFile), kp.Private); err != nil {
		return err
	}
	return pem.PublicKeyToFile(filepath.Join(dataDir, PublicKeyFile), kp.Public)
}
