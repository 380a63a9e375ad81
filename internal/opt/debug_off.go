//go:build !refsync_debug

package opt

const Debug_ = false
