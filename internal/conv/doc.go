// Package conv provides checked integer conversions.
//
// On-disk layouts use fixed-width little-endian fields while the Go API works
// with int. These helpers validate counts, offsets and lengths read from disk
// or supplied by callers before they are narrowed.
package conv
