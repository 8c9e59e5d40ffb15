// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package testutil

import (
	"math/rand"
	"testing"
)

func TestRandSourceExplicitSeed(t *testing.T) {
	// The requested seed must win even when CI pins the default to 0.
	t.Setenv("CI", "1")
	t.Setenv("LEAKSCOPE_SEED", "12345")
	got := rand.New(RandSource(t)).Int63()
	want := rand.New(rand.NewSource(12345)).Int63()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRandSourceCI(t *testing.T) {
	t.Setenv("CI", "1")
	t.Setenv("LEAKSCOPE_SEED", "")
	got := rand.New(RandSource(t)).Int63()
	want := rand.New(rand.NewSource(0)).Int63()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}
