// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

var errNoEXIF = errors.New("no EXIF data")

// maxIFDs is the maximum number of IFDs in a TIFF IFD chain.
const maxIFDs = 100

// validateEXIF checks that b holds a structurally valid TIFF directory tree.
func validateEXIF(b []byte) error {
	if err := checkIFDChain(b); err != nil {
		return newInvalidFormatError(fmt.Errorf("decoding EXIF: %w", err))
	}
	if _, err := tiff.Decode(bytes.NewReader(b)); err != nil {
		return newInvalidFormatError(fmt.Errorf("decoding EXIF: %w", err))
	}
	return nil
}

// checkIFDChain walks the IFD chain in b and fails on cycles,
// out of range offsets and overlong chains.
// tiff.Decode only detects an IFD pointing to itself.
func checkIFDChain(b []byte) error {
	if len(b) < 8 {
		return fmt.Errorf("TIFF header too short (%d bytes)", len(b))
	}
	var order binary.ByteOrder
	switch string(b[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return fmt.Errorf("invalid TIFF byte order %q", b[:2])
	}

	seen := make(map[uint32]bool)
	for offset := order.Uint32(b[4:8]); offset != 0; {
		if seen[offset] {
			return fmt.Errorf("IFD chain loops back to offset %d", offset)
		}
		seen[offset] = true
		if len(seen) > maxIFDs {
			return fmt.Errorf("IFD chain longer than %d", maxIFDs)
		}
		if uint64(offset)+2 > uint64(len(b)) {
			return fmt.Errorf("IFD at offset %d is outside of the data", offset)
		}
		count := uint64(order.Uint16(b[offset:]))
		next := uint64(offset) + 2 + 12*count
		if next+4 > uint64(len(b)) {
			return fmt.Errorf("IFD at offset %d with %d entries is outside of the data", offset, count)
		}
		offset = order.Uint32(b[next:])
	}
	return nil
}

// DecodeEXIF decodes the EXIF data in r.
func (r Result) DecodeEXIF() (*exif.Exif, error) {
	if r.EXIF == nil {
		return nil, errNoEXIF
	}
	return exif.Decode(bytes.NewReader(r.EXIF))
}

// EXIFTags returns the EXIF tags known to goexif, sorted by tag name.
func (r Result) EXIFTags() ([]TagInfo, error) {
	x, err := r.DecodeEXIF()
	if err != nil {
		return nil, err
	}
	w := &exifWalker{}
	if err := x.Walk(w); err != nil {
		return nil, err
	}
	slices.SortFunc(w.tags, func(a, b TagInfo) int {
		return strings.Compare(a.Tag, b.Tag)
	})
	return w.tags, nil
}

type exifWalker struct {
	tags []TagInfo
}

func (w *exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	var v any
	if tag.Format() == tiff.StringVal {
		s, err := tag.StringVal()
		if err != nil {
			return err
		}
		v = printableString(string(trimBytesNulls([]byte(s))))
	} else {
		v = tag.String()
	}
	w.tags = append(w.tags, TagInfo{
		Source: EXIF,
		Tag:    string(name),
		Value:  v,
	})
	return nil
}
