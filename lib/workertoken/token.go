// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package workertoken implements Ed25519-signed bearer tokens for
// authenticating edge workers to the Tracery server.
//
// Edge workers run on machines the server does not manage, often
// behind NAT, so the server cannot identify callers by address or
// socket credentials. An operator mints a token per worker with the
// deployment's signing key; the worker presents it on every RPC call
// as an Authorization bearer value, and the server verifies it
// cryptographically with the public key from its config — no shared
// database, no callback.
//
// # Wire format
//
// A token is raw bytes: deterministic-CBOR-encoded payload followed
// by a 64-byte Ed25519 signature over the payload bytes.
//
//	[CBOR payload bytes] [64-byte Ed25519 signature]
//
// The split point is always len(token) - 64. No header, no length
// prefix — the algorithm is fixed and the signature size is constant.
// For HTTP transport the whole token is base64url-encoded (see
// [Encode] and [Decode]).
//
// # Scope
//
// The payload names the worker (Subject), the audience (always
// "edge" today), and the queue patterns the worker may fetch from.
// The server checks queue grants on jobs.fetch, so a token for the
// "gpu" queue cannot drain "default".
package workertoken

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/tracery-project/tracery/lib/codec"
)

// AudienceEdge is the audience value for edge worker API tokens.
const AudienceEdge = "edge"

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

// Token is the CBOR-encoded payload of a worker identity token.
type Token struct {
	// Subject is the worker name this token was minted for. Must
	// match the worker name in every RPC call that carries it.
	Subject string `cbor:"1,keyasint"`

	// Audience is the API surface this token is scoped to. The edge
	// worker API requires AudienceEdge; a token minted for a future
	// surface cannot be replayed against it.
	Audience string `cbor:"2,keyasint"`

	// Queues are glob patterns (path.Match syntax) of queue names
	// the worker may fetch jobs from. Empty means no queues —
	// default-deny.
	Queues []string `cbor:"3,keyasint,omitempty"`

	// ID is a unique token identifier (UUID string), for audit logs.
	ID string `cbor:"4,keyasint"`

	// IssuedAt is a Unix timestamp (seconds) of minting.
	IssuedAt int64 `cbor:"5,keyasint"`

	// ExpiresAt is a Unix timestamp (seconds) after which the token
	// is invalid. Zero means the token does not expire (long-lived
	// provisioned workers).
	ExpiresAt int64 `cbor:"6,keyasint,omitempty"`
}

// Errors returned by Verify and related functions.
var (
	ErrTokenTooShort    = errors.New("workertoken: token too short for signature")
	ErrInvalidSignature = errors.New("workertoken: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("workertoken: token has expired")
	ErrAudienceMismatch = errors.New("workertoken: audience does not match")
	ErrSubjectMismatch  = errors.New("workertoken: subject does not match caller")
)

// Mint signs a Token and returns the raw wire-format bytes.
func Mint(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("workertoken: encoding token payload: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)

	return result, nil
}

// Verify splits the raw token bytes, verifies the Ed25519 signature,
// decodes the payload, and checks expiry against the wall clock.
func Verify(publicKey ed25519.PublicKey, tokenBytes []byte) (*Token, error) {
	return VerifyAt(publicKey, tokenBytes, time.Now())
}

// VerifyAt is Verify with an explicit time for expiry checks,
// supporting deterministic tests.
//
// The caller must additionally check Audience (see
// [Token.CheckAudience]) and that Subject matches the worker name in
// the request.
func VerifyAt(publicKey ed25519.PublicKey, tokenBytes []byte, now time.Time) (*Token, error) {
	if len(tokenBytes) <= signatureSize {
		return nil, ErrTokenTooShort
	}

	splitPoint := len(tokenBytes) - signatureSize
	payload := tokenBytes[:splitPoint]
	signature := tokenBytes[splitPoint:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("workertoken: decoding token payload: %w", err)
	}

	if token.ExpiresAt != 0 && now.Unix() >= token.ExpiresAt {
		return nil, ErrTokenExpired
	}

	return &token, nil
}

// CheckAudience returns ErrAudienceMismatch unless the token is
// scoped to the given audience.
func (t *Token) CheckAudience(audience string) error {
	if t.Audience != audience {
		return ErrAudienceMismatch
	}
	return nil
}

// AllowsQueue reports whether the token's queue grants cover the
// given queue name.
func (t *Token) AllowsQueue(queue string) bool {
	for _, pattern := range t.Queues {
		if matched, err := path.Match(pattern, queue); err == nil && matched {
			return true
		}
	}
	return false
}

// Encode converts raw token bytes to the base64url form carried in
// the Authorization header.
func Encode(tokenBytes []byte) string {
	return base64.RawURLEncoding.EncodeToString(tokenBytes)
}

// Decode converts the base64url header form back to raw token bytes.
func Decode(encoded string) ([]byte, error) {
	tokenBytes, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("workertoken: decoding base64 token: %w", err)
	}
	return tokenBytes, nil
}
