// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// errShortRead is returned when a read goes past the end of the reader's scope.
var errShortRead = errors.New("short read")

// byteOrder is the byte order of all ISOBMFF integer fields.
var byteOrder = binary.BigEndian

// streamReader is a forward only reader that keeps track of its position
// and of the number of bytes left in its scope.
// The first read error is kept and all subsequent reads return zero values,
// so decoders check err() once after a group of reads.
// Note that this is not thread safe.
type streamReader struct {
	r    *bufio.Reader
	buf  []byte
	pos  int64
	size int64

	// If set, every consumed byte is also written to dup.
	dup *bytes.Buffer

	readErr error
}

func newStreamReader(r io.Reader, size int64) *streamReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &streamReader{
		r:    br,
		size: size,
	}
}

// newPayloadReader returns a reader over an in-memory box payload.
func newPayloadReader(b []byte) *streamReader {
	return &streamReader{
		r:    bufio.NewReaderSize(bytes.NewReader(b), 16),
		size: int64(len(b)),
	}
}

func (e *streamReader) err() error {
	return e.readErr
}

func (e *streamReader) stop(err error) {
	if e.readErr == nil {
		e.readErr = err
	}
}

// remaining returns the number of bytes left in the reader's scope.
func (e *streamReader) remaining() int64 {
	return e.size - e.pos
}

func (e *streamReader) allocateBuf(length int) {
	if length > cap(e.buf) {
		e.buf = make([]byte, length)
	}
}

func (e *streamReader) readNIntoBuf(n int) bool {
	if e.readErr != nil {
		return false
	}
	if int64(n) > e.remaining() {
		e.stop(fmt.Errorf("read %d bytes at position %d: %w", n, e.pos, errShortRead))
		return false
	}
	e.allocateBuf(n)
	if _, err := io.ReadFull(e.r, e.buf[:n]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		e.stop(err)
		return false
	}
	if e.dup != nil {
		e.dup.Write(e.buf[:n])
	}
	e.pos += int64(n)
	return true
}

func (e *streamReader) read1() uint8 {
	if !e.readNIntoBuf(1) {
		return 0
	}
	return e.buf[0]
}

func (e *streamReader) read2() uint16 {
	if !e.readNIntoBuf(2) {
		return 0
	}
	return byteOrder.Uint16(e.buf[:2])
}

// read3 reads the 24 bit flags field of a full box.
func (e *streamReader) read3() uint32 {
	if !e.readNIntoBuf(3) {
		return 0
	}
	return uint32(e.buf[0])<<16 | uint32(e.buf[1])<<8 | uint32(e.buf[2])
}

func (e *streamReader) read4() uint32 {
	if !e.readNIntoBuf(4) {
		return 0
	}
	return byteOrder.Uint32(e.buf[:4])
}

func (e *streamReader) read8() uint64 {
	if !e.readNIntoBuf(8) {
		return 0
	}
	return byteOrder.Uint64(e.buf[:8])
}

// readVarUint reads an n byte unsigned integer.
// n must be 0, 4 or 8; n == 0 reads nothing and returns 0.
func (e *streamReader) readVarUint(n int) uint64 {
	switch n {
	case 0:
		return 0
	case 4:
		return uint64(e.read4())
	case 8:
		return e.read8()
	default:
		e.stop(newInvalidFormatErrorf("unsupported field size %d", n))
		return 0
	}
}

func (e *streamReader) readFourCC() BoxType {
	if !e.readNIntoBuf(4) {
		return BoxType{}
	}
	return BoxTypeOf(e.buf[:4])
}

// readBytes reads n bytes into a newly allocated slice.
func (e *streamReader) readBytes(n int64) []byte {
	if e.readErr != nil {
		return nil
	}
	if n < 0 {
		e.stop(newInvalidFormatErrorf("negative length %d", n))
		return nil
	}
	if n > e.remaining() {
		e.stop(fmt.Errorf("read %d bytes at position %d: %w", n, e.pos, errShortRead))
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(e.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		e.stop(err)
		return nil
	}
	if e.dup != nil {
		e.dup.Write(b)
	}
	e.pos += n
	return b
}

// readRemaining reads all bytes left in scope.
func (e *streamReader) readRemaining() []byte {
	return e.readBytes(e.remaining())
}

// skip advances the reader n bytes.
// A negative n is never clamped; it's an error.
func (e *streamReader) skip(n int64) {
	if e.readErr != nil {
		return
	}
	if n < 0 {
		e.stop(newInvalidFormatErrorf("negative skip %d at position %d", n, e.pos))
		return
	}
	if n > e.remaining() {
		e.stop(fmt.Errorf("skip %d bytes at position %d: %w", n, e.pos, errShortRead))
		return
	}
	var dst io.Writer = io.Discard
	if e.dup != nil {
		dst = e.dup
	}
	if _, err := io.CopyN(dst, e.r, n); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		e.stop(err)
		return
	}
	e.pos += n
}

// peek returns the next n bytes without consuming them.
func (e *streamReader) peek(n int) ([]byte, bool) {
	if e.readErr != nil || int64(n) > e.remaining() {
		return nil, false
	}
	b, err := e.r.Peek(n)
	if err != nil {
		return nil, false
	}
	return b, true
}

// readNullTerminatedString reads a NUL terminated string.
// A missing terminator at the end of scope is accepted.
// Names that are not valid UTF-8 are decoded as ISO-8859-1.
func (e *streamReader) readNullTerminatedString() string {
	var b []byte
	for e.remaining() > 0 && e.readErr == nil {
		c := e.read1()
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	if utf8.Valid(b) {
		return string(b)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// contentLength returns the number of bytes available in r.
func contentLength(r io.Reader) (int64, error) {
	switch v := r.(type) {
	case interface{ Size() int64 }:
		return v.Size(), nil
	case io.Seeker:
		cur, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		end, err := v.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		if _, err := v.Seek(cur, io.SeekStart); err != nil {
			return 0, err
		}
		return end - cur, nil
	}
	return 0, errors.New("content length unknown; set Options.Size")
}
