// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package workertoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "worker-signing-key"
	publicKeyFile  = "worker-signing-key.pub"
)

// GenerateKeypair creates a new Ed25519 keypair for token signing.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveKeypair writes an Ed25519 keypair to the key directory. The
// private key file has 0600 permissions; the public key file has 0644.
func SaveKeypair(keyDir string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	privatePath := filepath.Join(keyDir, privateKeyFile)
	if err := os.WriteFile(privatePath, private, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	publicPath := filepath.Join(keyDir, publicKeyFile)
	if err := os.WriteFile(publicPath, public, 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	return nil
}

// LoadPrivateKey reads the signing key from the key directory.
func LoadPrivateKey(keyDir string) (ed25519.PrivateKey, error) {
	privatePath := filepath.Join(keyDir, privateKeyFile)
	privateBytes, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	if len(privateBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(privateBytes), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(privateBytes), nil
}

// LoadPublicKey reads the verification key from the key directory.
func LoadPublicKey(keyDir string) (ed25519.PublicKey, error) {
	publicPath := filepath.Join(keyDir, publicKeyFile)
	publicBytes, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(publicBytes), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(publicBytes), nil
}

// ParsePublicKeyHex decodes a hex-encoded Ed25519 public key, the
// form the server config carries so a config file is self-contained
// without a key directory.
func ParsePublicKeyHex(encoded string) (ed25519.PublicKey, error) {
	keyBytes, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding public key hex: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(keyBytes), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(keyBytes), nil
}

// PublicKeyHex encodes a public key in the hex form used by server
// configuration.
func PublicKeyHex(public ed25519.PublicKey) string {
	return hex.EncodeToString(public)
}
