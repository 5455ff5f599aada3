package chunk

import "errors"

var (
	ErrShortHeader      = errors.New("chunk: short header buffer")
	ErrChecksumMismatch = errors.New("chunk: content length checksum mismatch")
	ErrChunkTooLarge    = errors.New("chunk: content length exceeds limit")
	ErrInvalidByteOrder = errors.New("chunk: invalid byte order")
)
