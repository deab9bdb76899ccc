// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"bytes"
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
)

func boxTypes(boxes []Box) []string {
	var types []string
	for _, b := range boxes {
		types = append(types, b.Type().String())
	}
	return types
}

func TestDecodeJXL(t *testing.T) {
	c := qt.New(t)

	res, err := decodeBytes(c, buildJXL(jxlSpec{exif: testTIFF, xmp: testXMP}), Options{})
	c.Assert(err, qt.IsNil)
	c.Assert(res.ImageFormat, qt.Equals, JXL)
	c.Assert(res.Brand, qt.Equals, "jxl ")
	c.Assert(res.EXIF, qt.DeepEquals, testTIFF)
	c.Assert(res.XMP, qt.Equals, testXMP)
}

func TestDecodeJXLStopsAtCodestream(t *testing.T) {
	c := qt.New(t)

	// A box claiming more bytes than available after the codestream.
	trailing := []byte{0x00, 0x10, 0x00, 0x00, 'x', 'm', 'l', ' '}
	b := buildJXL(jxlSpec{exif: testTIFF, trailing: trailing})

	res, err := decodeBytes(c, b, Options{})
	c.Assert(err, qt.IsNil)
	c.Assert(res.EXIF, qt.DeepEquals, testTIFF)

	_, err = ReadBoxes(bytes.NewReader(b))
	c.Assert(IsInvalidFormat(err), qt.IsTrue)
}

func TestDecodeJXLBrotli(t *testing.T) {
	c := qt.New(t)

	var warnings []string
	warnf := func(format string, args ...any) {
		warnings = append(warnings, format)
	}

	res, err := decodeBytes(c, buildJXL(jxlSpec{brob: TypeExif}), Options{Warnf: warnf})
	c.Assert(err, qt.IsNil)
	c.Assert(res.EXIF, qt.IsNil)
	c.Assert(warnings, qt.HasLen, 1)
}

func TestDecodeJXLInvalidEXIF(t *testing.T) {
	c := qt.New(t)

	_, err := decodeBytes(c, buildJXL(jxlSpec{exif: []byte("not a TIFF file")}), Options{})
	c.Assert(err, qt.ErrorMatches, "bmffmeta: decoding EXIF: .*")

	_, err = decodeBytes(c, buildJXL(jxlSpec{exif: testCyclicTIFF}), Options{})
	c.Assert(err, qt.ErrorMatches, "bmffmeta: decoding EXIF: IFD chain loops back to offset 8")
	c.Assert(IsInvalidFormat(err), qt.IsTrue)
}

func TestWriteJXL(t *testing.T) {
	c := qt.New(t)

	xmp := testXMP

	c.Run("Insert after codestream header", func(c *qt.C) {
		var buf bytes.Buffer
		err := WriteJXL(&buf, bytes.NewReader(buildJXL(jxlSpec{})), testTIFF, &xmp)
		c.Assert(err, qt.IsNil)

		boxes := readTestBoxes(c, buf.Bytes())
		c.Assert(boxTypes(boxes), qt.DeepEquals, []string{"JXL ", "ftyp", "jxlp", "Exif", "xml ", "jxlp"})
		exif := boxes[3].(*ExifBox)
		c.Assert(exif.TIFFHeaderOffset, qt.Equals, uint32(0))
		c.Assert(exif.Size(), qt.Equals, uint32(8+4+len(testTIFF)))

		res, err := Decode(Options{R: bytes.NewReader(buf.Bytes())})
		c.Assert(err, qt.IsNil)
		c.Assert(res.EXIF, qt.DeepEquals, testTIFF)
		c.Assert(res.XMP, qt.Equals, testXMP)
	})

	c.Run("Insert after ftyp", func(c *qt.C) {
		var buf bytes.Buffer
		err := WriteJXL(&buf, bytes.NewReader(buildJXL(jxlSpec{noHeaderBox: true})), testTIFF, nil)
		c.Assert(err, qt.IsNil)
		boxes := readTestBoxes(c, buf.Bytes())
		c.Assert(boxTypes(boxes), qt.DeepEquals, []string{"JXL ", "ftyp", "Exif", "jxlp"})
	})

	c.Run("Replace", func(c *qt.C) {
		original := buildJXL(jxlSpec{exif: []byte("old"), xmp: "old"})
		newXMP := "<x:xmpmeta/>"
		var buf bytes.Buffer
		err := WriteJXL(&buf, bytes.NewReader(original), testTIFF, &newXMP)
		c.Assert(err, qt.IsNil)
		boxes := readTestBoxes(c, buf.Bytes())
		c.Assert(boxTypes(boxes), qt.DeepEquals, []string{"JXL ", "ftyp", "jxlp", "Exif", "xml ", "jxlp"})
		c.Assert(string(boxes[4].Payload()), qt.Equals, newXMP)
	})

	c.Run("Keep", func(c *qt.C) {
		original := buildJXL(jxlSpec{exif: testTIFF, xmp: testXMP})
		var buf bytes.Buffer
		err := WriteJXL(&buf, bytes.NewReader(original), nil, nil)
		c.Assert(err, qt.IsNil)
		c.Assert(buf.Bytes(), qt.DeepEquals, original)
	})

	c.Run("Brotli", func(c *qt.C) {
		original := buildJXL(jxlSpec{brob: TypeExif})
		var buf bytes.Buffer
		err := WriteJXL(&buf, bytes.NewReader(original), testTIFF, nil)
		c.Assert(errors.Is(err, ErrBrotliCompressed), qt.IsTrue)
		c.Assert(buf.Len(), qt.Equals, 0)

		// Only XMP is replaced, so the compressed EXIF is kept.
		err = WriteJXL(&buf, bytes.NewReader(original), nil, &xmp)
		c.Assert(err, qt.IsNil)
		boxes := readTestBoxes(c, buf.Bytes())
		c.Assert(boxTypes(boxes), qt.DeepEquals, []string{"JXL ", "ftyp", "jxlp", "xml ", "brob", "jxlp"})
	})

	c.Run("Not JXL", func(c *qt.C) {
		var buf bytes.Buffer
		err := WriteJXL(&buf, bytes.NewReader(buildHEIF(heifSpec{items: defaultHEIFItems()})), testTIFF, nil)
		c.Assert(err, qt.ErrorMatches, "bmffmeta: not a JPEG XL container file")
	})
}

func TestWriteJXLSizeZeroAnchor(t *testing.T) {
	c := qt.New(t)

	w := newBoxWriter()
	w.writeFtyp("jxl ", "\x00\x00\x00\x00", "jxl ")
	w.putUint32(0)
	w.putBytes(TypeJxlp[:])
	w.putBytes(testJXLHeaderCodestream)

	var buf bytes.Buffer
	c.Assert(WriteJXL(&buf, bytes.NewReader(w.Bytes()), testTIFF, nil), qt.IsNil)

	boxes := readTestBoxes(c, buf.Bytes())
	c.Assert(boxTypes(boxes), qt.DeepEquals, []string{"ftyp", "jxlp", "Exif"})
	c.Assert(boxes[1].Size(), qt.Equals, uint32(8+len(testJXLHeaderCodestream)))
	c.Assert(boxes[1].Payload(), qt.DeepEquals, testJXLHeaderCodestream)
}
