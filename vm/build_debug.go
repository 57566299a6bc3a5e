//go:build !release

package vm

// debugBuild enables the invalidity guard and owner-goroutine checks.
// Build with -tags release to compile them out.
const debugBuild = true
