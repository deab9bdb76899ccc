// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import "encoding/binary"

// BoxType is the 4 byte type tag (fourCC) of a box.
// Two box types are equal if their bytes are equal, so a BoxType can be used directly as a map key.
type BoxType [4]byte

// BoxTypeOf returns the BoxType for the given 4 bytes.
// Unknown tags are valid; they just don't match any of the well-known types.
// It panics if len(b) != 4.
func BoxTypeOf(b []byte) BoxType {
	if len(b) != 4 {
		panic("bmffmeta: box type must be 4 bytes")
	}
	return BoxType{b[0], b[1], b[2], b[3]}
}

func newBoxType(s string) BoxType {
	return BoxTypeOf([]byte(s))
}

// String returns the 4 character name of the box type.
func (t BoxType) String() string {
	return string(t[:])
}

// Uint32 returns the big-endian integer form of the box type.
func (t BoxType) Uint32() uint32 {
	return binary.BigEndian.Uint32(t[:])
}

// Well-known box types.
var (
	TypeFtyp = newBoxType("ftyp")
	TypeMeta = newBoxType("meta")
	TypeHdlr = newBoxType("hdlr")
	TypePitm = newBoxType("pitm")
	TypeIinf = newBoxType("iinf")
	TypeInfe = newBoxType("infe")
	TypeIloc = newBoxType("iloc")
	TypeMdat = newBoxType("mdat")
	TypeMoov = newBoxType("moov")
	TypeTrak = newBoxType("trak")
	TypeMdia = newBoxType("mdia")
	TypeMinf = newBoxType("minf")
	TypeStbl = newBoxType("stbl")
	TypeStsz = newBoxType("stsz")
	TypeCo64 = newBoxType("co64")
	TypeUUID = newBoxType("uuid")

	// JPEG XL.
	TypeExif = newBoxType("Exif")
	TypeXML  = newBoxType("xml ")
	TypeBrob = newBoxType("brob")
	TypeJxlp = newBoxType("jxlp")

	// Canon CR3.
	TypeCMT1 = newBoxType("CMT1")
	TypeCMT2 = newBoxType("CMT2")
	TypeCMT3 = newBoxType("CMT3")
	TypeCMT4 = newBoxType("CMT4")
	TypeTHMB = newBoxType("THMB")
)

// Item types of ItemInfoEntryBox, compared as big-endian integers.
var (
	itemTypeExif = newBoxType("Exif").Uint32()
	itemTypeMime = newBoxType("mime").Uint32()
	itemTypeIPTC = newBoxType("iptc").Uint32()
)

// Major brands.
const (
	brandJXL = "jxl "
	brandCR3 = "crx "
)
