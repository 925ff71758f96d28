// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

// Package asset defines asset identity for lineage tracking.
//
// An asset is anything a task reads or writes: a table, a file, a
// topic, an API endpoint. Assets are identified by URI. Two URI
// strings that normalize identically refer to the same asset — the
// lineage store, the graph walker, and auto-inlet resolution all
// compare assets by [URI.Key], never by raw string.
//
// Normalization is deliberately conservative: scheme and host are
// case-insensitive per RFC 3986 and are lowercased; a single trailing
// slash on the path is dropped; everything else (path case, query
// order, fragments) is preserved as written. Collapsing more than
// that would merge assets that backing systems treat as distinct.
package asset

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/zeebo/blake3"
)

// URI is a normalized asset identifier. Construct with [ParseURI];
// the zero value is invalid.
type URI string

// ParseURI validates and normalizes a raw asset URI.
//
// Requirements: non-empty, no whitespace, an absolute URI with a
// scheme. Relative references are rejected because they cannot name
// an asset stably across tasks.
func ParseURI(raw string) (URI, error) {
	if raw == "" {
		return "", fmt.Errorf("asset: empty URI")
	}
	if strings.ContainsAny(raw, " \t\n\r") {
		return "", fmt.Errorf("asset: URI %q contains whitespace", raw)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("asset: parsing URI %q: %w", raw, err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("asset: URI %q has no scheme", raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	if len(parsed.Path) > 1 && strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	return URI(parsed.String()), nil
}

// MustParseURI is ParseURI that panics on error. For tests and
// compile-time-constant URIs only.
func MustParseURI(raw string) URI {
	uri, err := ParseURI(raw)
	if err != nil {
		panic(err)
	}
	return uri
}

// String returns the normalized URI text.
func (u URI) String() string { return string(u) }

// Key returns the stable 128-bit identifier for this asset: the first
// 16 bytes of the BLAKE3 digest of the normalized URI, hex-encoded.
// Used as the primary key in the lineage store and as graph node IDs.
func (u URI) Key() string {
	digest := blake3.Sum256([]byte(u))
	return hex.EncodeToString(digest[:16])
}

// Asset is a lineage asset reference: the identity URI plus optional
// human-facing metadata. Name and Group do not participate in
// identity — they are advisory labels carried through to lineage
// consumers.
type Asset struct {
	// URI is the normalized asset identifier.
	URI URI `json:"uri" cbor:"1,keyasint"`

	// Name is an optional display name (e.g., "orders_daily").
	Name string `json:"name,omitempty" cbor:"2,keyasint,omitempty"`

	// Group is an optional namespace for related assets
	// (e.g., "warehouse.sales").
	Group string `json:"group,omitempty" cbor:"3,keyasint,omitempty"`

	// Extra carries backend-specific key/value metadata. Forwarded
	// verbatim to lineage backends.
	Extra map[string]string `json:"extra,omitempty" cbor:"4,keyasint,omitempty"`
}

// New builds an Asset from a raw URI, normalizing it.
func New(rawURI string) (Asset, error) {
	uri, err := ParseURI(rawURI)
	if err != nil {
		return Asset{}, err
	}
	return Asset{URI: uri}, nil
}

// Validate checks that the asset carries a normalized URI.
func (a Asset) Validate() error {
	if a.URI == "" {
		return fmt.Errorf("asset: missing URI")
	}
	normalized, err := ParseURI(string(a.URI))
	if err != nil {
		return err
	}
	if normalized != a.URI {
		return fmt.Errorf("asset: URI %q is not normalized (want %q)", a.URI, normalized)
	}
	return nil
}

// Dedupe returns assets with duplicate keys removed, first occurrence
// wins, input order preserved. Used when merging declared outlets with
// runtime-reported assets.
func Dedupe(assets []Asset) []Asset {
	seen := make(map[string]struct{}, len(assets))
	result := make([]Asset, 0, len(assets))
	for _, a := range assets {
		key := a.URI.Key()
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, a)
	}
	return result
}
