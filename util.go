package refsync

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/pdkcore/refsync/internal/opt"
)

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

var logger atomic.Pointer[slog.Logger]

// SetLogger sets the logger that receives diagnostics about misuse, such
// as closing a locked ReadWriteLock. A nil l restores slog.Default().
func SetLogger(l *slog.Logger) {
	logger.Store(l)
}

func diagLogger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// misuse reports a programming error. It always logs; with the
// refsync_debug build tag it also panics.
func misuse(msg string, args ...any) {
	diagLogger().Warn(msg, args...)
	if opt.Debug_ {
		panic(fmt.Sprintf("refsync: %s", msg))
	}
}
