//go:build refsync_debug

package opt

// Debug_ turns programming-error diagnostics into panics.
// Use: go test -tags=refsync_debug
const Debug_ = true
