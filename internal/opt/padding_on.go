//go:build refsync_enable_padding || (!(amd64 || 386 || arm || mips || mipsle || wasm) && !refsync_disable_padding)

package opt

import (
	"sync/atomic"
	"unsafe"
)

// Uint32Stripe_ is an atomic counter that owns a full cache line.
// Padding is enabled for architectures that are NOT amd64 or 32-bit, or
// when forced with the refsync_enable_padding build tag.
type Uint32Stripe_ struct {
	V atomic.Uint32
	_ [(CacheLineSize_ - unsafe.Sizeof(atomic.Uint32{})%CacheLineSize_) % CacheLineSize_]byte
}
