// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"io"
	"math"
)

// boxHeaderLen is the minimum header length: 4 bytes size and 4 bytes type.
const boxHeaderLen = 8

// ReadBoxes reads and decodes all top level boxes in r,
// including the children of the container boxes this package knows about.
// The content length is derived from r as in Decode.
func ReadBoxes(r io.Reader) (boxes []Box, err error) {
	defer func() {
		err = finalizeErr(err, recover())
	}()
	size, err := contentLength(r)
	if err != nil {
		return nil, err
	}
	return readBoxes(newStreamReader(r, size), 0, false)
}

// readBoxes reads boxes from r until fewer than boxHeaderLen bytes remain.
// shift is added to every recorded offset so offsets are absolute in the
// source stream.
// If stopAfterMetadata is set, reading stops right after the meta box, or,
// for JPEG XL, before the first jxlp box following the codestream header.
func readBoxes(r *streamReader, shift int64, stopAfterMetadata bool) ([]Box, error) {
	var (
		boxes            []Box
		seenJXLHeaderBox bool
	)

	for r.remaining() >= boxHeaderLen {
		if stopAfterMetadata && seenJXLHeaderBox {
			if hdr, ok := r.peek(boxHeaderLen); ok && BoxTypeOf(hdr[4:8]) == TypeJxlp {
				break
			}
		}

		start := r.pos
		size := r.read4()
		typ := r.readFourCC()

		var (
			largeSize uint64
			length    int64
		)
		switch size {
		case 0:
			length = boxHeaderLen + r.remaining()
		case 1:
			largeSize = r.read8()
			if largeSize > math.MaxInt64 {
				return nil, newInvalidFormatErrorf("box %q at offset %d: large size %d out of range", typ, shift+start, largeSize)
			}
			length = int64(largeSize)
		default:
			length = int64(size)
		}
		if err := r.err(); err != nil {
			return nil, wrapReadErr(err, "box header at offset %d", shift+start)
		}

		headerLen := r.pos - start
		if length < headerLen {
			return nil, newInvalidFormatErrorf("box %q at offset %d: size %d is smaller than its header", typ, shift+start, length)
		}
		if length-headerLen > r.remaining() {
			return nil, newInvalidFormatErrorf("box %q at offset %d: size %d exceeds the %d bytes remaining", typ, shift+start, length, r.remaining()+headerLen)
		}

		payload := r.readBytes(length - headerLen)
		if err := r.err(); err != nil {
			return nil, wrapReadErr(err, "box %q at offset %d", typ, shift+start)
		}

		b, err := newBox(boxHeader{
			typ:       typ,
			offset:    shift + start,
			size:      size,
			largeSize: largeSize,
			headerLen: int(headerLen),
			payload:   payload,
		})
		if err != nil {
			return nil, newInvalidFormatError(err)
		}
		boxes = append(boxes, b)

		if stopAfterMetadata {
			if typ == TypeMeta {
				break
			}
			// Only item based files may need the scanned bytes replayed.
			if ftyp, ok := b.(*FileTypeBox); ok && (ftyp.MajorBrand == brandJXL || ftyp.MajorBrand == brandCR3) {
				r.dup = nil
			}
			if jxlp, ok := b.(*PartialCodestreamBox); ok && jxlp.IsHeader {
				seenJXLHeaderBox = true
			}
		}
	}

	return boxes, nil
}
