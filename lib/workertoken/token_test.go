// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package workertoken

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testToken() *Token {
	return &Token{
		Subject:   "edge-1",
		Audience:  AudienceEdge,
		Queues:    []string{"default", "gpu-*"},
		ID:        "6f9bd3f6-25c4-4c7e-8d5d-5b42f3a5e2f1",
		IssuedAt:  testNow.Unix(),
		ExpiresAt: testNow.Add(24 * time.Hour).Unix(),
	}
}

func TestMintVerifyRoundTrip(t *testing.T) {
	public, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	raw, err := Mint(private, testToken())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	verified, err := VerifyAt(public, raw, testNow)
	if err != nil {
		t.Fatalf("VerifyAt: %v", err)
	}
	if verified.Subject != "edge-1" {
		t.Errorf("Subject = %q, want edge-1", verified.Subject)
	}
	if err := verified.CheckAudience(AudienceEdge); err != nil {
		t.Errorf("CheckAudience: %v", err)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	public, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	raw, err := Mint(private, testToken())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// Flip one bit in the payload.
	raw[0] ^= 0x01
	if _, err := VerifyAt(public, raw, testNow); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered payload: err = %v, want ErrInvalidSignature", err)
	}
	raw[0] ^= 0x01

	// Flip one bit in the signature.
	raw[len(raw)-1] ^= 0x01
	if _, err := VerifyAt(public, raw, testNow); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered signature: err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsTruncatedToken(t *testing.T) {
	public, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if _, err := VerifyAt(public, make([]byte, 64), testNow); !errors.Is(err, ErrTokenTooShort) {
		t.Errorf("err = %v, want ErrTokenTooShort", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	otherPublic, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	raw, err := Mint(private, testToken())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := VerifyAt(otherPublic, raw, testNow); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyExpiry(t *testing.T) {
	public, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	raw, err := Mint(private, testToken())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := VerifyAt(public, raw, testNow.Add(48*time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired: err = %v, want ErrTokenExpired", err)
	}

	// Zero ExpiresAt never expires.
	eternal := testToken()
	eternal.ExpiresAt = 0
	raw, err = Mint(private, eternal)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := VerifyAt(public, raw, testNow.AddDate(10, 0, 0)); err != nil {
		t.Errorf("non-expiring token rejected: %v", err)
	}
}

func TestAllowsQueue(t *testing.T) {
	token := testToken()
	for queue, want := range map[string]bool{
		"default":   true,
		"gpu-large": true,
		"gpu-":      true,
		"cpu":       false,
		"":          false,
	} {
		if got := token.AllowsQueue(queue); got != want {
			t.Errorf("AllowsQueue(%q) = %v, want %v", queue, got, want)
		}
	}

	empty := &Token{Subject: "edge-1", Audience: AudienceEdge}
	if empty.AllowsQueue("default") {
		t.Error("token with no queue grants allowed a queue")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	_, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	raw, err := Mint(private, testToken())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	decoded, err := Decode(Encode(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Error("Encode/Decode did not round-trip")
	}

	if _, err := Decode("not!base64!!"); err == nil {
		t.Error("Decode accepted invalid base64")
	}
}

func TestKeypairFiles(t *testing.T) {
	directory := t.TempDir()
	public, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if err := SaveKeypair(directory, public, private); err != nil {
		t.Fatalf("SaveKeypair: %v", err)
	}

	loadedPrivate, err := LoadPrivateKey(directory)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	loadedPublic, err := LoadPublicKey(directory)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	if !loadedPrivate.Equal(private) || !loadedPublic.Equal(public) {
		t.Error("loaded keypair differs from saved keypair")
	}

	parsed, err := ParsePublicKeyHex(PublicKeyHex(public))
	if err != nil {
		t.Fatalf("ParsePublicKeyHex: %v", err)
	}
	if !parsed.Equal(public) {
		t.Error("hex round-trip changed the public key")
	}
}
