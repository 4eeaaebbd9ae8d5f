// Package testutil provides testing utilities for readstore.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded, thread-safe RNG with helpers for generating reads,
// fragments and partition assignments.
//
// # Random Reads
//
//	rng := testutil.NewRNG(seed)
//	seq, qlt := rng.Read(100)
//	frags := rng.Fragments(1000, 1, 30, 3000) // UIDs 1..1000, mixed classes
//
// # Partition Assignments
//
//	assignment := rng.Assignment(1000, 8, 0.1, 1.2)
package testutil
