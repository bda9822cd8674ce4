//go:build !unix

package dav1d

// POSIX values as used by dav1d builds on non-unix targets.
const (
	errnoAgain      = 11
	errnoInvalid    = 22
	errnoNoMemory   = 12
	errnoNoProtoOpt = 92
)
