// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"encoding/hex"
)

// testTIFF is a minimal big endian TIFF with one IFD holding Orientation = 1.
var testTIFF = []byte{
	'M', 'M', 0x00, 0x2a, // byte order and magic
	0x00, 0x00, 0x00, 0x08, // offset to IFD0
	0x00, 0x01, // one entry
	0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, // Orientation, SHORT, 1
	0x00, 0x00, 0x00, 0x00, // no next IFD
}

// testCyclicTIFF has two IFDs pointing to each other: IFD0 at 8 and IFD1 at 26.
var testCyclicTIFF = []byte{
	'M', 'M', 0x00, 0x2a,
	0x00, 0x00, 0x00, 0x08,
	0x00, 0x01,
	0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x1a, // next IFD at 26
	0x00, 0x01,
	0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x08, // back to IFD0
}

const testXMP = `<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"><rdf:Description rdf:about="" xmlns:xmp="http://ns.adobe.com/xap/1.0/" xmp:CreatorTool="bmffmeta"/></rdf:RDF></x:xmpmeta>`

// exifItem returns an ISOBMFF EXIF item payload: TIFF header offset, "Exif\0\0" and tiff.
func exifItem(tiff []byte) []byte {
	w := newBoxWriter()
	w.putUint32(6)
	w.putBytes([]byte("Exif\x00\x00"))
	w.putBytes(tiff)
	return w.Bytes()
}

type testItem struct {
	id       uint32
	itemType string
	data     []byte
}

type heifSpec struct {
	items []testItem

	ilocVersion        uint8
	infeVersion        uint8
	constructionMethod uint8

	// mdatFirst places mdat before meta, as some Samsung phones do.
	mdatFirst bool

	// omit leaves out a mandatory meta child box.
	omit BoxType

	// baseOffset, if set, is stored in an 8 byte iloc base offset field
	// and the extent offsets are written relative to it, wrapping around.
	baseOffset uint64
}

func defaultHEIFItems() []testItem {
	return []testItem{
		{id: 1, itemType: "hvc1", data: []byte("not really an image")},
		{id: 2, itemType: "Exif", data: exifItem(testTIFF)},
		{id: 3, itemType: "mime", data: []byte(testXMP)},
	}
}

func writeTestMeta(w *boxWriter, s heifSpec, offsets map[uint32]uint64) {
	w.startFullBox(TypeMeta, 0, 0)

	if s.omit != TypeHdlr {
		w.startFullBox(TypeHdlr, 0, 0)
		w.putUint32(0) // pre_defined
		w.putBytes([]byte("pict"))
		w.putZeros(12)
		w.putString("bmffmeta handler")
		w.endBox()
	}

	if s.omit != TypePitm {
		w.startFullBox(TypePitm, 0, 0)
		w.putUint16(1)
		w.endBox()
	}

	if s.omit != TypeIinf {
		w.startFullBox(TypeIinf, 0, 0)
		w.putUint16(uint16(len(s.items)))
		for _, item := range s.items {
			w.startFullBox(TypeInfe, s.infeVersion, 0)
			if s.infeVersion == 3 {
				w.putUint32(item.id)
			} else {
				w.putUint16(uint16(item.id))
			}
			w.putUint16(0) // protection index
			w.putBytes([]byte(item.itemType))
			w.putString("")
			w.endBox()
		}
		w.endBox()
	}

	if s.omit != TypeIloc {
		w.startFullBox(TypeIloc, s.ilocVersion, 0)
		w.putUint8(0x44) // offset size 4, length size 4
		if s.baseOffset != 0 {
			w.putUint8(0x80) // base offset size 8, index size 0
		} else {
			w.putUint8(0x40) // base offset size 4, index size 0
		}
		if s.ilocVersion < 2 {
			w.putUint16(uint16(len(s.items)))
		} else {
			w.putUint32(uint32(len(s.items)))
		}
		// Write the items in reverse to check the extent sorting.
		for i := len(s.items) - 1; i >= 0; i-- {
			item := s.items[i]
			if s.ilocVersion < 2 {
				w.putUint16(uint16(item.id))
			} else {
				w.putUint32(item.id)
			}
			if s.ilocVersion > 0 {
				w.putUint16(uint16(s.constructionMethod))
			}
			w.putUint16(0) // data reference index
			if s.baseOffset != 0 {
				w.putUint64(s.baseOffset)
			} else {
				w.putUint32(0)
			}
			w.putUint16(1) // extent count
			w.putUint32(uint32(offsets[item.id] - s.baseOffset))
			w.putUint32(uint32(len(item.data)))
		}
		w.endBox()
	}

	w.endBox()
}

// buildHEIF builds a HEIF file with the items stored in mdat.
func buildHEIF(s heifSpec) []byte {
	if s.infeVersion == 0 {
		s.infeVersion = 2
	}

	ftyp := newBoxWriter()
	ftyp.writeFtyp("heic", "\x00\x00\x00\x00", "mif1", "heic")

	// The meta box size does not depend on the offset values.
	measure := newBoxWriter()
	writeTestMeta(measure, s, nil)
	metaLen := measure.Len()

	mdatPayloadStart := uint64(ftyp.Len() + boxHeaderLen)
	if !s.mdatFirst {
		mdatPayloadStart += uint64(metaLen)
	}
	offsets := make(map[uint32]uint64)
	mdat := newBoxWriter()
	mdat.startBox(TypeMdat)
	for _, item := range s.items {
		offsets[item.id] = mdatPayloadStart + uint64(mdat.Len()-boxHeaderLen)
		mdat.putBytes(item.data)
	}
	mdat.endBox()

	meta := newBoxWriter()
	writeTestMeta(meta, s, offsets)

	w := newBoxWriter()
	w.putBytes(ftyp.Bytes())
	if s.mdatFirst {
		w.putBytes(mdat.Bytes())
		w.putBytes(meta.Bytes())
	} else {
		w.putBytes(meta.Bytes())
		w.putBytes(mdat.Bytes())
	}
	return w.Bytes()
}

var (
	testJXLHeaderCodestream = append([]byte{0x00, 0x00, 0x00, 0x00, 0xff, 0x0a}, []byte("header")...)
	testJXLCodestream       = append([]byte{0x80, 0x00, 0x00, 0x01}, []byte("pixels")...)
)

type jxlSpec struct {
	exif        []byte
	xmp         string
	brob        BoxType
	noHeaderBox bool
	// trailing is appended after the last jxlp box.
	trailing []byte
}

func buildJXL(s jxlSpec) []byte {
	w := newBoxWriter()

	w.startBox(newBoxType("JXL "))
	w.putBytes([]byte{0x0d, 0x0a, 0x87, 0x0a})
	w.endBox()

	w.writeFtyp("jxl ", "\x00\x00\x00\x00", "jxl ")

	if !s.noHeaderBox {
		w.startBox(TypeJxlp)
		w.putBytes(testJXLHeaderCodestream)
		w.endBox()
	}

	if s.exif != nil {
		w.startBox(TypeExif)
		w.putUint32(6)
		w.putBytes([]byte("Exif\x00\x00"))
		w.putBytes(s.exif)
		w.endBox()
	}

	if s.xmp != "" {
		w.startBox(TypeXML)
		w.putBytes([]byte(s.xmp))
		w.endBox()
	}

	if s.brob != (BoxType{}) {
		w.startBox(TypeBrob)
		w.putBytes(s.brob[:])
		w.putBytes([]byte("compressed"))
		w.endBox()
	}

	w.startBox(TypeJxlp)
	w.putBytes(testJXLCodestream)
	w.endBox()

	w.putBytes(s.trailing)

	return w.Bytes()
}

var (
	testCR3Preview      = []byte("\xff\xd8full size preview\xff\xd9")
	testCR3SmallPreview = []byte("\xff\xd8small preview\xff\xd9")
)

type cr3Spec struct {
	prvwMarker string
	noMoov     bool
}

func putUUID(w *boxWriter, s string) {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	w.putBytes(b)
}

func writeTestMoov(w *boxWriter, previewOffset uint64) {
	w.startBox(TypeMoov)

	w.startBox(TypeUUID)
	putUUID(w, cr3CanonUUID)
	w.startBox(newBoxType("CNCV"))
	w.putBytes([]byte("CanonCR3_001/00.09.00/00.00.00"))
	w.endBox()
	w.startBox(TypeCMT1)
	w.putBytes(testTIFF)
	w.endBox()
	w.endBox()

	w.startBox(TypeTrak)
	w.startBox(TypeMdia)
	w.startBox(TypeMinf)
	w.startBox(TypeStbl)

	w.startFullBox(TypeStsz, 0, 0)
	w.putUint32(0) // sample size
	w.putUint32(1) // sample count
	w.putUint32(uint32(len(testCR3Preview)))
	w.endBox()

	w.startFullBox(TypeCo64, 0, 0)
	w.putUint32(1) // entry count
	w.putUint64(previewOffset)
	w.endBox()

	w.endBox() // stbl
	w.endBox() // minf
	w.endBox() // mdia
	w.endBox() // trak

	w.endBox() // moov
}

func buildCR3(s cr3Spec) []byte {
	if s.prvwMarker == "" {
		s.prvwMarker = "PRVW"
	}

	head := newBoxWriter()
	head.writeFtyp("crx ", "\x00\x00\x00\x01", "crx ", "isom")

	tail := newBoxWriter()
	tail.startBox(TypeUUID)
	putUUID(tail, cr3XMPUUID)
	tail.putBytes([]byte(testXMP))
	tail.endBox()

	tail.startBox(TypeUUID)
	putUUID(tail, cr3PreviewUUID)
	tail.putZeros(8)
	tail.putUint32(uint32(4 + 4 + 12 + 4 + len(testCR3SmallPreview)))
	tail.putBytes([]byte(s.prvwMarker))
	tail.putZeros(12)
	tail.putUint32(uint32(len(testCR3SmallPreview)))
	tail.putBytes(testCR3SmallPreview)
	tail.endBox()

	var moovLen int
	if !s.noMoov {
		measure := newBoxWriter()
		writeTestMoov(measure, 0)
		moovLen = measure.Len()
	}

	// mdat uses a 64 bit size, so its payload starts 16 bytes in.
	mdatStart := head.Len() + moovLen + tail.Len()
	previewOffset := uint64(mdatStart + 16 + 3)

	w := newBoxWriter()
	w.putBytes(head.Bytes())
	if !s.noMoov {
		writeTestMoov(w, previewOffset)
	}
	w.putBytes(tail.Bytes())
	w.startLargeBox(TypeMdat)
	w.putBytes([]byte("raw"))
	w.putBytes(testCR3Preview)
	w.putBytes([]byte("more raw data"))
	w.endBox()

	return w.Bytes()
}
