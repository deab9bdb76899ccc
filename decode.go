// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

const (
	// EXIF is the EXIF tag source.
	EXIF Source = 1 << iota
	// IPTC is the IPTC tag source.
	// It's recognized in ISOBMFF item lists but never read.
	IPTC
	// XMP is the XMP tag source.
	XMP
)

const (
	// ISOBMFF is any ISOBMFF based image format using a meta box, e.g. HEIF/HEIC and AVIF.
	ISOBMFF ImageFormat = iota
	// JXL is the JPEG XL container format.
	JXL
	// CR3 is the Canon CR3 raw format.
	CR3
)

// 10 MB should be plenty for image metadata.
const defaultLimitMetadataSize = 10 * 1024 * 1024

// ImageFormat is the image format.
//
//go:generate stringer -type=ImageFormat
type ImageFormat int

// Source is a bitmask and you may send multiple sources at once.
//
//go:generate stringer -type=Source
type Source uint32

// Remove removes the given source.
func (t Source) Remove(source Source) Source {
	t &= ^source
	return t
}

// Has returns true if the given source is set.
func (t Source) Has(source Source) bool {
	return t&source != 0
}

// IsZero returns true if the source is zero.
func (t Source) IsZero() bool {
	return t == 0
}

// Options contains the options for the Decode function.
type Options struct {
	// The Reader (typically a *os.File) to read image metadata from.
	// It is read forward only.
	R io.Reader

	// Size is the content length of R.
	// If not set, it is derived from R if it implements Size() int64 or io.Seeker.
	Size int64

	// If set, the decoder will only read the given sources.
	// Note that this is a bitmask and you may send multiple sources at once.
	// Default is EXIF | XMP.
	Sources Source

	// Warnf will be called for each warning.
	Warnf func(string, ...any)

	// Timeout is the maximum time the decoder will spend on reading metadata.
	// Mostly useful for testing.
	// If set to 0, the decoder will not time out.
	Timeout time.Duration

	// LimitMetadataSize is the maximum size in bytes of an EXIF or XMP blob.
	// Default value is 10 MB.
	LimitMetadataSize uint32
}

// Result contains the result of a Decode operation.
type Result struct {
	ImageFormat ImageFormat

	// Brand is the major brand of the ftyp box, e.g. "heic".
	Brand            string
	CompatibleBrands []string

	// EXIF holds the EXIF data starting at the TIFF header, nil if not found.
	EXIF []byte

	// XMP holds the XMP packet, empty if not found.
	XMP string
}

// Decode reads EXIF and XMP from the ISOBMFF based image in opts.R.
// No metadata is not an error; the returned Result will then have a nil EXIF and an empty XMP.
func Decode(opts Options) (result Result, err error) {
	defer func() {
		err = finalizeErr(err, recover())
	}()

	if opts.R == nil {
		return result, fmt.Errorf("no reader provided")
	}
	if opts.Size == 0 {
		if opts.Size, err = contentLength(opts.R); err != nil {
			return result, err
		}
	}
	if opts.Size < 0 {
		return result, fmt.Errorf("invalid content length %d", opts.Size)
	}
	if opts.Sources == 0 {
		opts.Sources = EXIF | XMP
	}
	opts.Sources = opts.Sources.Remove(IPTC)
	if opts.Warnf == nil {
		opts.Warnf = func(string, ...any) {}
	}
	if opts.LimitMetadataSize == 0 {
		opts.LimitMetadataSize = defaultLimitMetadataSize
	}

	if opts.Sources.IsZero() {
		return result, nil
	}

	dec := &decoder{opts: opts}

	if opts.Timeout > 0 {
		type res struct {
			result Result
			err    error
		}
		resc := make(chan res, 1)
		go func() {
			var r res
			defer func() {
				r.err = finalizeErr(r.err, recover())
				resc <- r
			}()
			r.result, r.err = dec.decode()
		}()
		select {
		case <-time.After(opts.Timeout):
			return result, fmt.Errorf("%w after %s", errTimedOut, opts.Timeout)
		case r := <-resc:
			return r.result, r.err
		}
	}

	return dec.decode()
}

type decoder struct {
	opts Options
}

func (d *decoder) decode() (Result, error) {
	var result Result

	r := newStreamReader(d.opts.R, d.opts.Size)

	// Keep a copy of everything read while looking for the metadata boxes
	// in case the metadata is located before the meta box.
	scanned := &bytes.Buffer{}
	r.dup = scanned
	boxes, err := readBoxes(r, 0, true)
	if err != nil {
		return result, err
	}
	r.dup = nil

	if len(boxes) == 0 {
		return result, newInvalidFormatErrorf("not a valid ISOBMFF file: no boxes found")
	}
	ftyp, ok := findBox[*FileTypeBox](boxes)
	if !ok {
		return result, newInvalidFormatErrorf("not a valid ISOBMFF file: no %q box", TypeFtyp)
	}
	result.Brand = ftyp.MajorBrand
	result.CompatibleBrands = ftyp.CompatibleBrands

	switch ftyp.MajorBrand {
	case brandJXL:
		return d.composeJXL(boxes, result)
	case brandCR3:
		return d.composeCR3(boxes, result)
	}

	meta, ok := findBox[*MetaBox](boxes)
	if !ok {
		return result, newInvalidFormatErrorf("not a valid ISOBMFF file: no %q box", TypeMeta)
	}

	var offsets []MetadataOffset
	for _, o := range meta.findMetadataOffsets(d.opts.Warnf) {
		if d.opts.Sources.Has(o.Source) {
			offsets = append(offsets, o)
		}
	}
	if len(offsets) == 0 {
		return result, nil
	}

	if offsets[0].Offset < uint64(r.pos) {
		// The metadata is located before the meta box (e.g. mdat before meta in
		// some Samsung HEIC files). Replay the bytes read so far.
		// The buffer holds every consumed byte; a mismatch is a bug in streamReader.
		// Truncated content after the replayed prefix fails on read.
		if int64(scanned.Len()) != r.pos {
			return result, newInvalidFormatErrorf("replay: buffered %d bytes, read %d", scanned.Len(), r.pos)
		}
		r = newStreamReader(io.MultiReader(bytes.NewReader(scanned.Bytes()), r.r), d.opts.Size)
	}

	for _, o := range offsets {
		if err := d.checkSize(o.Source, o.Length); err != nil {
			return result, err
		}
		if o.Offset+o.Length > uint64(d.opts.Size) || o.Offset+o.Length < o.Offset {
			return result, newInvalidFormatErrorf("%s item at offset %d with length %d is outside of the content (%d bytes)", o.Source, o.Offset, o.Length, d.opts.Size)
		}
		r.skip(int64(o.Offset) - r.pos)
		if err := r.err(); err != nil {
			return result, wrapReadErr(err, "%s item at offset %d", o.Source, o.Offset)
		}

		switch o.Source {
		case EXIF:
			exif, err := d.readEXIF(r, o)
			if err != nil {
				return result, err
			}
			if result.EXIF != nil {
				d.opts.Warnf("bmffmeta: multiple EXIF items found, using the one at offset %d", o.Offset)
			}
			result.EXIF = exif
		case XMP:
			b := r.readBytes(int64(o.Length))
			if err := r.err(); err != nil {
				return result, wrapReadErr(err, "XMP item at offset %d", o.Offset)
			}
			xmp, err := decodeXMPText(b)
			if err != nil {
				return result, err
			}
			result.XMP = xmp
		}
	}

	return result, nil
}

// readEXIF reads the EXIF item at o.
// The item starts with a 4 byte offset to the TIFF header, usually 6 to skip "Exif\0\0".
func (d *decoder) readEXIF(r *streamReader, o MetadataOffset) ([]byte, error) {
	if o.Length < 4 {
		return nil, newInvalidFormatErrorf("EXIF item at offset %d: length %d too short", o.Offset, o.Length)
	}
	hdrOffset := r.read4()
	if err := r.err(); err != nil {
		return nil, wrapReadErr(err, "EXIF item at offset %d", o.Offset)
	}
	if uint64(hdrOffset) > o.Length-4 {
		return nil, newInvalidFormatErrorf("EXIF item at offset %d: invalid TIFF header offset %d", o.Offset, hdrOffset)
	}
	r.skip(int64(hdrOffset))
	b := r.readBytes(int64(o.Length - 4 - uint64(hdrOffset)))
	if err := r.err(); err != nil {
		return nil, wrapReadErr(err, "EXIF item at offset %d", o.Offset)
	}
	if err := validateEXIF(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (d *decoder) checkSize(source Source, length uint64) error {
	if length > uint64(d.opts.LimitMetadataSize) {
		return newInvalidFormatErrorf("%s size %d exceeds limit %d", source, length, d.opts.LimitMetadataSize)
	}
	return nil
}

// TagInfo contains information about a tag.
type TagInfo struct {
	// The tag source.
	Source Source
	// The tag name.
	Tag string
	// The tag namespace.
	// For EXIF, this is empty.
	// For XMP, this is the namespace, e.g. "http://ns.adobe.com/camera-raw-settings/1.0/"
	Namespace string
	// The tag value.
	Value any
}
