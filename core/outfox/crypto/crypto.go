// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package crypto provides the key encapsulation, key derivation and AEAD
// primitives used by the Outfox packet format.
package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/katzenpost/chacha20poly1305"
	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

const (
	// KeyLength is the length of a derived AEAD key in bytes.
	KeyLength = chacha20poly1305.KeySize

	// NonceLength is the AEAD nonce length in bytes.
	NonceLength = chacha20poly1305.NonceSize

	// Overhead is the AEAD authentication tag length in bytes.
	Overhead = chacha20poly1305.Overhead

	// TagLength is the length of a per-hop key confirmation tag in bytes.
	TagLength = 16

	// LabelPayload is the KDF label for the payload encryption key.
	LabelPayload = "payload-encryption"

	// LabelKeyConfirmation is the KDF label for the per-hop key
	// confirmation MAC key.
	LabelKeyConfirmation = "key-confirmation"
)

// ErrCrypto is the error returned when a key, ciphertext or authenticator
// is malformed or fails to verify.
var ErrCrypto = errors.New("crypto: operation failed")

// KeyPair is a relay's KEM key pair.
type KeyPair struct {
	Public  kem.PublicKey
	Private kem.PrivateKey
}

// Scheme returns the KEM scheme of the key pair.
func (k *KeyPair) Scheme() kem.Scheme {
	return k.Private.Scheme()
}

// PublicBytes returns the serialized public key.
func (k *KeyPair) PublicBytes() []byte {
	b, err := k.Public.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

// GenerateKeyPair creates a fresh key pair for the scheme.
func GenerateKeyPair(scheme kem.Scheme) (*KeyPair, error) {
	pk, sk, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return &KeyPair{Public: pk, Private: sk}, nil
}

// Encapsulate generates a shared secret for pk and the ciphertext that
// carries it.
func Encapsulate(pk kem.PublicKey) (ct, ss []byte, err error) {
	if pk == nil {
		return nil, nil, fmt.Errorf("%w: nil public key", ErrCrypto)
	}
	ct, ss, err = pk.Scheme().Encapsulate(pk)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret carried by ct.
func Decapsulate(ct []byte, sk kem.PrivateKey) ([]byte, error) {
	if sk == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrCrypto)
	}
	scheme := sk.Scheme()
	if len(ct) != scheme.CiphertextSize() {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, kem.ErrCiphertextSize)
	}
	ss, err := scheme.Decapsulate(sk, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return ss, nil
}

// DeriveKey expands the shared secret into a length byte key bound to the
// domain separation label, using HKDF-SHA3-256.
func DeriveKey(sharedSecret []byte, label string, length int) []byte {
	r := hkdf.New(sha3.New256, sharedSecret, nil, []byte(label))
	k := make([]byte, length)
	if _, err := io.ReadFull(r, k); err != nil {
		panic("crypto: HKDF output exhausted: " + err.Error())
	}
	return k
}

// NewNonce returns a fresh random AEAD nonce.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// Seal encrypts and authenticates plaintext and authenticates ad.
func Seal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	defer aead.Reset()
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

// Open authenticates and decrypts ciphertext, failing with ErrCrypto if it
// or ad were tampered with.
func Open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	defer aead.Reset()
	pt, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return pt, nil
}

func newAEAD(key, nonce []byte) (*chacha20poly1305.ChaCha20Poly1305, error) {
	if len(nonce) != NonceLength {
		return nil, fmt.Errorf("%w: invalid nonce length %d", ErrCrypto, len(nonce))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return aead, nil
}

// KeyConfirmationTag binds the shared secret of one header slot to the
// packet identifier, the slot index and the slot ciphertext.  A relay
// holding the wrong private key derives a different shared secret under
// implicit rejection, and therefore a different tag.
func KeyConfirmationTag(sharedSecret, packetID []byte, slot int, ct []byte) []byte {
	key := DeriveKey(sharedSecret, LabelKeyConfirmation, blake2b.Size256)
	h, err := blake2b.New(TagLength, key)
	if err != nil {
		panic(err)
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(slot))
	h.Write(packetID)
	h.Write(idx[:])
	h.Write(ct)
	return h.Sum(nil)
}
