// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package edge

import (
	"crypto/ed25519"
	"net/http"
	"strings"
	"time"

	"github.com/tracery-project/tracery/lib/schema"
	"github.com/tracery-project/tracery/lib/workertoken"
)

// authenticate extracts and verifies the bearer token on an RPC
// request. Returns the verified token, or a JSON-RPC error ready for
// the response envelope.
//
// Every RPC method requires a token with the edge audience. Subject
// and queue checks are per-method: handlers that carry a worker name
// call [requireSubject] with it.
func authenticate(r *http.Request, publicKey ed25519.PublicKey, now time.Time) (*workertoken.Token, *schema.RPCError) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, &schema.RPCError{
			Code:    schema.CodeUnauthorized,
			Message: "missing Authorization header",
		}
	}
	encoded, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, &schema.RPCError{
			Code:    schema.CodeUnauthorized,
			Message: "Authorization header is not a bearer token",
		}
	}

	raw, err := workertoken.Decode(strings.TrimSpace(encoded))
	if err != nil {
		return nil, &schema.RPCError{
			Code:    schema.CodeUnauthorized,
			Message: "malformed token encoding",
		}
	}

	token, err := workertoken.VerifyAt(publicKey, raw, now)
	if err != nil {
		// The distinction between expiry, bad signature, and
		// truncation matters for the worker's logs, not for the
		// attacker reading the response.
		return nil, &schema.RPCError{
			Code:    schema.CodeUnauthorized,
			Message: "invalid token",
		}
	}

	if err := token.CheckAudience(workertoken.AudienceEdge); err != nil {
		return nil, &schema.RPCError{
			Code:    schema.CodeUnauthorized,
			Message: "token audience is not valid for this API",
		}
	}

	return token, nil
}

// requireSubject checks that the token was minted for the worker named
// in the request params.
func requireSubject(token *workertoken.Token, worker string) *schema.RPCError {
	if token.Subject != worker {
		return &schema.RPCError{
			Code:    schema.CodeUnauthorized,
			Message: "token subject does not match worker",
		}
	}
	return nil
}
