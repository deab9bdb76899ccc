// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"bytes"
	"fmt"
	"io"
)

// jxlCodestreamHeader is the start of the payload of the jxlp box holding
// the codestream header: a 4 byte sequence index of 0 and the codestream signature.
var jxlCodestreamHeader = []byte{0x00, 0x00, 0x00, 0x00, 0xff, 0x0a}

// ExifBox is the JPEG XL Exif box.
type ExifBox struct {
	boxHeader
	// TIFFHeaderOffset is the number of bytes to skip before the TIFF header.
	TIFFHeaderOffset uint32
	// TIFF is the EXIF data starting at the TIFF header.
	TIFF []byte
}

// XMLBox is the JPEG XL xml box holding an XMP packet.
type XMLBox struct {
	boxHeader
}

// PartialCodestreamBox is the JPEG XL jxlp box.
type PartialCodestreamBox struct {
	boxHeader
	// IsHeader is set if this box starts the codestream.
	IsHeader bool
}

// CompressedBox is the JPEG XL brob box, a brotli compressed box.
type CompressedBox struct {
	boxHeader
	// InnerType is the type of the compressed box.
	InnerType BoxType
}

func newExifBox(h boxHeader) (*ExifBox, error) {
	if len(h.payload) < 4 {
		return nil, fmt.Errorf("%q: payload too short (%d bytes)", TypeExif, len(h.payload))
	}
	b := &ExifBox{boxHeader: h}
	b.TIFFHeaderOffset = byteOrder.Uint32(h.payload[:4])
	if uint64(b.TIFFHeaderOffset) > uint64(len(h.payload)-4) {
		return nil, fmt.Errorf("%q: TIFF header offset %d out of range", TypeExif, b.TIFFHeaderOffset)
	}
	b.TIFF = h.payload[4+b.TIFFHeaderOffset:]
	return b, nil
}

func newPartialCodestreamBox(h boxHeader) *PartialCodestreamBox {
	return &PartialCodestreamBox{
		boxHeader: h,
		IsHeader:  bytes.HasPrefix(h.payload, jxlCodestreamHeader),
	}
}

func newCompressedBox(h boxHeader) (*CompressedBox, error) {
	if len(h.payload) < 4 {
		return nil, fmt.Errorf("brob: payload too short (%d bytes)", len(h.payload))
	}
	return &CompressedBox{boxHeader: h, InnerType: BoxTypeOf(h.payload[:4])}, nil
}

// composeJXL collects EXIF and XMP from the top level JPEG XL boxes.
func (d *decoder) composeJXL(boxes []Box, result Result) (Result, error) {
	result.ImageFormat = JXL
	for _, b := range boxes {
		switch b := b.(type) {
		case *ExifBox:
			if !d.opts.Sources.Has(EXIF) || result.EXIF != nil {
				continue
			}
			if err := d.checkSize(EXIF, uint64(len(b.TIFF))); err != nil {
				return result, err
			}
			if err := validateEXIF(b.TIFF); err != nil {
				return result, err
			}
			result.EXIF = b.TIFF
		case *XMLBox:
			if !d.opts.Sources.Has(XMP) || result.XMP != "" {
				continue
			}
			if err := d.checkSize(XMP, uint64(len(b.payload))); err != nil {
				return result, err
			}
			xmp, err := decodeXMPText(b.payload)
			if err != nil {
				return result, err
			}
			result.XMP = xmp
		case *CompressedBox:
			if b.InnerType == TypeExif || b.InnerType == TypeXML {
				d.opts.Warnf("bmffmeta: skipping brotli compressed %q box", b.InnerType)
			}
		}
	}
	return result, nil
}

// WriteJXL copies the JPEG XL file in r to w, replacing its EXIF and XMP.
// exif is the EXIF data starting at the TIFF header; nil keeps the existing EXIF.
// A nil xmp keeps the existing XMP.
// It fails with an error wrapping ErrBrotliCompressed if the metadata to
// replace is stored in a brob box, since that box would otherwise be lost.
func WriteJXL(w io.Writer, r io.Reader, exif []byte, xmp *string) (err error) {
	defer func() {
		err = finalizeErr(err, recover())
	}()

	boxes, err := ReadBoxes(r)
	if err != nil {
		return err
	}
	ftyp, ok := findBox[*FileTypeBox](boxes)
	if !ok || ftyp.MajorBrand != brandJXL {
		return newInvalidFormatErrorf("not a JPEG XL container file")
	}

	for _, b := range boxes {
		if c, ok := b.(*CompressedBox); ok {
			if (exif != nil && c.InnerType == TypeExif) || (xmp != nil && c.InnerType == TypeXML) {
				return fmt.Errorf("replace %q box: %w", c.InnerType, ErrBrotliCompressed)
			}
		}
	}

	insertAfter := Box(ftyp)
	for _, b := range boxes {
		if jxlp, ok := b.(*PartialCodestreamBox); ok && jxlp.IsHeader {
			insertAfter = b
			break
		}
	}

	bw := newBoxWriter()
	for _, b := range boxes {
		switch b.Type() {
		case TypeExif:
			if exif != nil {
				continue
			}
		case TypeXML:
			if xmp != nil {
				continue
			}
		}

		// A box extending to the end of the stream gets an explicit size
		// when boxes are inserted after it.
		bw.writeBox(b, b == insertAfter)

		if b == insertAfter {
			if exif != nil {
				bw.startBox(TypeExif)
				bw.putUint32(0) // TIFF header offset
				bw.putBytes(exif)
				bw.endBox()
			}
			if xmp != nil {
				bw.startBox(TypeXML)
				bw.putBytes([]byte(*xmp))
				bw.endBox()
			}
		}
	}

	_, err = w.Write(bw.Bytes())
	return err
}
