// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"io"
	"math"
)

// Canon CR3 uuid box identifiers.
const (
	cr3PreviewUUID = "eaf42b5e1c984b88b9fbb7dc406e4d16"
	cr3XMPUUID     = "be7acfcb97a942e89c71999491e3afac"
	cr3CanonUUID   = "85c0b687820f11e08111f4ce462b6a48"
)

var prvwMarker = newBoxType("PRVW")

// composeCR3 returns the CR3 result.
// EXIF is stored in the CMT1-CMT4 boxes below the Canon uuid box and is not decoded.
func (d *decoder) composeCR3(boxes []Box, result Result) (Result, error) {
	result.ImageFormat = CR3
	if d.opts.Sources.Has(EXIF) {
		d.warnCR3EXIF(boxes)
	}
	if !d.opts.Sources.Has(XMP) {
		return result, nil
	}
	for _, b := range boxes {
		u, ok := b.(*UUIDBox)
		if !ok || u.UUIDHex() != cr3XMPUUID {
			continue
		}
		if err := d.checkSize(XMP, uint64(len(u.Data))); err != nil {
			return result, err
		}
		xmp, err := decodeXMPText(u.Data)
		if err != nil {
			return result, err
		}
		result.XMP = xmp
		break
	}
	return result, nil
}

func (d *decoder) warnCR3EXIF(boxes []Box) {
	for _, b := range boxes {
		moov, ok := b.(*MovieBox)
		if !ok {
			continue
		}
		for _, c := range moov.Boxes {
			u, ok := c.(*UUIDBox)
			if !ok || u.UUIDHex() != cr3CanonUUID {
				continue
			}
			children, err := readBoxes(newPayloadReader(u.Data), u.payloadOffset()+16, false)
			if err != nil {
				return
			}
			for _, cmt := range children {
				switch cmt.Type() {
				case TypeCMT1, TypeCMT2, TypeCMT3, TypeCMT4:
					d.opts.Warnf("bmffmeta: skipping CR3 EXIF in %q box at offset %d; not supported", cmt.Type(), cmt.Offset())
				}
			}
		}
	}
}

// ExtractCR3Preview returns the full size JPEG preview of the CR3 file in r,
// or nil if none is found.
func ExtractCR3Preview(r io.Reader) (b []byte, err error) {
	defer func() {
		err = finalizeErr(err, recover())
	}()
	boxes, err := ReadBoxes(r)
	if err != nil {
		return nil, err
	}
	return cr3Preview(boxes)
}

// ExtractCR3SmallPreview returns the small (1620x1080) JPEG preview stored
// in the preview uuid box of the CR3 file in r, or nil if none is found.
func ExtractCR3SmallPreview(r io.Reader) (b []byte, err error) {
	defer func() {
		err = finalizeErr(err, recover())
	}()
	boxes, err := ReadBoxes(r)
	if err != nil {
		return nil, err
	}
	return cr3SmallPreview(boxes)
}

func cr3Preview(boxes []Box) ([]byte, error) {
	moov, ok := findBox[*MovieBox](boxes)
	if !ok {
		return nil, nil
	}
	trak, ok := findBox[*TrackBox](moov.Boxes)
	if !ok {
		return nil, nil
	}
	mdia, ok := findBox[*MediaBox](trak.Boxes)
	if !ok {
		return nil, nil
	}
	minf := findBoxByType(mdia.Boxes, TypeMinf)
	if minf == nil {
		return nil, nil
	}
	minfBoxes, err := readChildBoxes(minf.header(), 0)
	if err != nil {
		return nil, newInvalidFormatError(err)
	}
	stbl := findBoxByType(minfBoxes, TypeStbl)
	if stbl == nil {
		return nil, nil
	}
	stblBoxes, err := readChildBoxes(stbl.header(), 0)
	if err != nil {
		return nil, newInvalidFormatError(err)
	}
	stsz := findBoxByType(stblBoxes, TypeStsz)
	co64 := findBoxByType(stblBoxes, TypeCo64)
	mdat, ok := findBox[*MediaDataBox](boxes)
	if stsz == nil || co64 == nil || !ok {
		return nil, nil
	}

	// stsz: version, flags, sample_size, sample_count, first entry size.
	sr := newPayloadReader(stsz.Payload())
	sr.skip(12)
	length := sr.read4()
	if err := sr.err(); err != nil {
		return nil, wrapReadErr(err, "stsz")
	}

	// co64: version, flags, entry_count, first chunk offset.
	cr := newPayloadReader(co64.Payload())
	cr.skip(8)
	offset := cr.read8()
	if err := cr.err(); err != nil {
		return nil, wrapReadErr(err, "co64")
	}

	payload := mdat.Payload()
	start := int64(offset) - mdat.payloadOffset()
	if offset > math.MaxInt64 || start < 0 || start+int64(length) > int64(len(payload)) {
		return nil, newInvalidFormatErrorf("cr3: preview at offset %d with length %d is outside of %q", offset, length, TypeMdat)
	}

	return payload[start : start+int64(length)], nil
}

func cr3SmallPreview(boxes []Box) ([]byte, error) {
	var preview *UUIDBox
	for _, b := range boxes {
		if u, ok := b.(*UUIDBox); ok && u.UUIDHex() == cr3PreviewUUID {
			preview = u
			break
		}
	}
	if preview == nil {
		return nil, nil
	}

	r := newPayloadReader(preview.Data)
	r.skip(8) // unknown
	r.skip(4) // size
	marker := r.readFourCC()
	if err := r.err(); err != nil {
		return nil, wrapReadErr(err, "cr3 preview")
	}
	if marker != prvwMarker {
		return nil, newInvalidFormatErrorf("cr3 preview: expected %q marker, got %q", prvwMarker, marker)
	}
	r.skip(12)
	jpegSize := r.read4()
	jpeg := r.readBytes(int64(jpegSize))
	if err := r.err(); err != nil {
		return nil, wrapReadErr(err, "cr3 preview")
	}
	return jpeg, nil
}
