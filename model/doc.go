// Package model defines the value types shared by the read store.
//
// A Fragment is one sequencing read. It is addressed externally by a UID
// and internally by a dense IID assigned in append order. Each fragment lives
// in exactly one density Class. Libraries group fragments, and clear ranges
// (one table per Kind) annotate trimmed intervals over a read's bases.
package model
