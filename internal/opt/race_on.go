//go:build race

package opt

// Race_ reports whether the race detector is compiled in. Tests use it to
// shrink iteration counts that are too slow under instrumentation.
const Race_ = true
