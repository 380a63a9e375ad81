// Package goid reports the identity of the calling goroutine.
//
// The id is recovered from the header line of runtime.Stack
// ("goroutine 123 [running]:"). It is slow (about a microsecond) and is
// only used by the recursive ReadWriteLock, whose owner bookkeeping needs
// a stable per-goroutine key.
package goid

import "runtime"

// Current returns the id of the calling goroutine, or 0 if the stack
// header could not be parsed.
func Current() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

func parse(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}
	var id int64
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
