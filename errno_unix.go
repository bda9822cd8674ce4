//go:build unix

package dav1d

import "golang.org/x/sys/unix"

const (
	errnoAgain      = int32(unix.EAGAIN)
	errnoInvalid    = int32(unix.EINVAL)
	errnoNoMemory   = int32(unix.ENOMEM)
	errnoNoProtoOpt = int32(unix.ENOPROTOOPT)
)
