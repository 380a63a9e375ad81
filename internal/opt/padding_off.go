//go:build !refsync_enable_padding && ((amd64 || 386 || arm || mips || mipsle || wasm) || refsync_disable_padding)

package opt

import "sync/atomic"

// Uint32Stripe_ is an atomic counter without padding.
// Padding is disabled by default for:
// - amd64
// - 32-bit architectures (386, arm, mips, mipsle, wasm)
//
// Use: go build -tags=refsync_enable_padding to force it on.
type Uint32Stripe_ struct {
	V atomic.Uint32
}
