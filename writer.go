// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import "math"

// writerFrame tracks the start offset of a box for size backpatching.
type writerFrame struct {
	offset int
	large  bool
}

// boxWriter encodes ISOBMFF boxes into a growing byte buffer.
type boxWriter struct {
	buf   []byte
	stack []writerFrame
}

func newBoxWriter() *boxWriter {
	return &boxWriter{}
}

// Bytes returns the written data.
func (w *boxWriter) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *boxWriter) Len() int { return len(w.buf) }

func (w *boxWriter) putUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *boxWriter) putUint16(v uint16) {
	w.buf = byteOrder.AppendUint16(w.buf, v)
}

func (w *boxWriter) putUint32(v uint32) {
	w.buf = byteOrder.AppendUint32(w.buf, v)
}

func (w *boxWriter) putUint64(v uint64) {
	w.buf = byteOrder.AppendUint64(w.buf, v)
}

// putVarUint appends v using n bytes, n being 0, 4 or 8.
func (w *boxWriter) putVarUint(v uint64, n int) {
	switch n {
	case 0:
	case 4:
		w.putUint32(uint32(v))
	case 8:
		w.putUint64(v)
	default:
		panic("invalid field size")
	}
}

func (w *boxWriter) putZeros(n int) {
	w.buf = append(w.buf, make([]byte, n)...)
}

func (w *boxWriter) putBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// putString appends s followed by a NUL byte.
func (w *boxWriter) putString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// startBox begins a new box. Write content, then call endBox.
func (w *boxWriter) startBox(t BoxType) {
	w.stack = append(w.stack, writerFrame{offset: len(w.buf)})
	w.putUint32(0) // placeholder size
	w.putBytes(t[:])
}

// startLargeBox begins a new box with a 64 bit size field.
func (w *boxWriter) startLargeBox(t BoxType) {
	w.stack = append(w.stack, writerFrame{offset: len(w.buf), large: true})
	w.putUint32(1)
	w.putBytes(t[:])
	w.putUint64(0) // placeholder size
}

// startFullBox begins a new full box with version and flags.
func (w *boxWriter) startFullBox(t BoxType, version uint8, flags uint32) {
	w.startBox(t)
	w.putUint32(uint32(version)<<24 | flags&0x00ffffff)
}

// endBox finishes the current box by backpatching its size.
func (w *boxWriter) endBox() {
	f := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	size := len(w.buf) - f.offset
	if f.large {
		byteOrder.PutUint64(w.buf[f.offset+8:], uint64(size))
		return
	}
	byteOrder.PutUint32(w.buf[f.offset:], uint32(size))
}

// writeBox writes b as it was read.
// If explicitSize is set, a size field of 0 is replaced by the actual size.
func (w *boxWriter) writeBox(b Box, explicitSize bool) {
	h := b.header()
	size := h.size
	if size == 0 && explicitSize {
		length := int64(len(h.payload) + boxHeaderLen)
		if length > math.MaxUint32 {
			w.putUint32(1)
			w.putBytes(h.typ[:])
			w.putUint64(uint64(length + 8))
			w.putBytes(h.payload)
			return
		}
		size = uint32(length)
	}
	w.putUint32(size)
	w.putBytes(h.typ[:])
	if size == 1 {
		w.putUint64(h.largeSize)
	}
	w.putBytes(h.payload)
}

// writeFtyp writes a complete ftyp box.
func (w *boxWriter) writeFtyp(major, minor string, compatible ...string) {
	w.startBox(TypeFtyp)
	w.putBytes([]byte(major))
	w.putBytes([]byte(minor))
	for _, c := range compatible {
		w.putBytes([]byte(c))
	}
	w.endBox()
}
