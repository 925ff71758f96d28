// Copyright 2026 The Tracery Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	// Map key order must not affect the encoded bytes.
	value := map[string]int{"zulu": 26, "alpha": 1, "mike": 13}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("non-deterministic encoding: %x != %x", first, again)
		}
	}
}

func TestUnmarshalAnyUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"queues": []any{"default"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		t.Fatalf("decoded any-typed map is %T, want map[string]any", decoded)
	}
}

func TestStructRoundTripIgnoresUnknownFields(t *testing.T) {
	type wide struct {
		Name  string `cbor:"1,keyasint"`
		Extra string `cbor:"2,keyasint"`
	}
	type narrow struct {
		Name string `cbor:"1,keyasint"`
	}

	data, err := Marshal(wide{Name: "etl-nightly", Extra: "ignored"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got narrow
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Name != "etl-nightly" {
		t.Errorf("Name = %q, want %q", got.Name, "etl-nightly")
	}
}
