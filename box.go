// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"encoding/hex"
	"fmt"
)

// Box is a decoded ISOBMFF box.
// The set of implementations is closed; use a type switch on the
// concrete box types in this package.
type Box interface {
	// Type returns the box type.
	Type() BoxType
	// Offset returns the absolute offset of the box in the source stream.
	Offset() int64
	// Size returns the size field as stored in the header.
	// 0 means the box extends to the end of its scope, 1 means LargeSize holds the size.
	Size() uint32
	// LargeSize returns the 64 bit size, only valid when Size is 1.
	LargeSize() uint64
	// HeaderLen returns the number of header bytes (8 or 16).
	HeaderLen() int
	// Payload returns the box payload, header excluded.
	Payload() []byte
	// ActualLength returns the number of bytes the box occupies in the stream.
	ActualLength() int64

	header() *boxHeader
}

type boxHeader struct {
	typ       BoxType
	offset    int64
	size      uint32
	largeSize uint64
	headerLen int
	payload   []byte
}

func (b *boxHeader) Type() BoxType      { return b.typ }
func (b *boxHeader) Offset() int64      { return b.offset }
func (b *boxHeader) Size() uint32       { return b.size }
func (b *boxHeader) LargeSize() uint64  { return b.largeSize }
func (b *boxHeader) HeaderLen() int     { return b.headerLen }
func (b *boxHeader) Payload() []byte    { return b.payload }
func (b *boxHeader) header() *boxHeader { return b }

func (b *boxHeader) ActualLength() int64 {
	switch b.size {
	case 0:
		return int64(len(b.payload) + b.headerLen)
	case 1:
		return int64(b.largeSize)
	default:
		return int64(b.size)
	}
}

func (b *boxHeader) String() string {
	return fmt.Sprintf("%s@%d+%d", b.typ, b.offset, b.ActualLength())
}

// payloadOffset returns the absolute offset of the first payload byte.
func (b *boxHeader) payloadOffset() int64 {
	return b.offset + int64(b.headerLen)
}

// GenericBox holds a box of a type this package does not decode.
type GenericBox struct {
	boxHeader
}

// FileTypeBox is the ftyp box.
type FileTypeBox struct {
	boxHeader
	MajorBrand       string
	MinorBrand       string
	CompatibleBrands []string
}

// HandlerReferenceBox is the hdlr box.
type HandlerReferenceBox struct {
	boxHeader
	Version     uint8
	Flags       uint32
	HandlerType string
	Name        string
}

// PrimaryItemBox is the pitm box.
type PrimaryItemBox struct {
	boxHeader
	Version uint8
	Flags   uint32
	ItemID  uint32
}

// MediaDataBox is the mdat box.
type MediaDataBox struct {
	boxHeader
}

// MovieBox is the moov box.
type MovieBox struct {
	boxHeader
	Boxes []Box
}

// TrackBox is the trak box.
type TrackBox struct {
	boxHeader
	Boxes []Box
}

// MediaBox is the mdia box.
type MediaBox struct {
	boxHeader
	Boxes []Box
}

// UUIDBox is a uuid box.
type UUIDBox struct {
	boxHeader
	UUID [16]byte
	// Data is the payload after the UUID.
	Data []byte
}

// UUIDHex returns the UUID as lower case hex without dashes.
func (b *UUIDBox) UUIDHex() string {
	return hex.EncodeToString(b.UUID[:])
}

func newGenericBox(h boxHeader) *GenericBox {
	return &GenericBox{boxHeader: h}
}

func newFileTypeBox(h boxHeader) (*FileTypeBox, error) {
	r := newPayloadReader(h.payload)
	b := &FileTypeBox{boxHeader: h}
	b.MajorBrand = r.readFourCC().String()
	b.MinorBrand = r.readFourCC().String()
	for r.remaining() >= 4 {
		b.CompatibleBrands = append(b.CompatibleBrands, r.readFourCC().String())
	}
	if err := r.err(); err != nil {
		return nil, fmt.Errorf("ftyp: %w", err)
	}
	return b, nil
}

func newHandlerReferenceBox(h boxHeader) (*HandlerReferenceBox, error) {
	r := newPayloadReader(h.payload)
	b := &HandlerReferenceBox{boxHeader: h}
	b.Version = r.read1()
	b.Flags = r.read3()
	r.skip(4) // pre_defined
	b.HandlerType = r.readFourCC().String()
	r.skip(12) // reserved
	if err := r.err(); err != nil {
		return nil, fmt.Errorf("hdlr: %w", err)
	}
	b.Name = r.readNullTerminatedString()
	return b, nil
}

func newPrimaryItemBox(h boxHeader) (*PrimaryItemBox, error) {
	r := newPayloadReader(h.payload)
	b := &PrimaryItemBox{boxHeader: h}
	b.Version = r.read1()
	b.Flags = r.read3()
	if b.Version == 0 {
		b.ItemID = uint32(r.read2())
	} else {
		b.ItemID = r.read4()
	}
	if err := r.err(); err != nil {
		return nil, fmt.Errorf("pitm: %w", err)
	}
	return b, nil
}

func newUUIDBox(h boxHeader) (*UUIDBox, error) {
	if len(h.payload) < 16 {
		return nil, fmt.Errorf("uuid: payload too short (%d bytes)", len(h.payload))
	}
	b := &UUIDBox{boxHeader: h}
	copy(b.UUID[:], h.payload[:16])
	b.Data = h.payload[16:]
	return b, nil
}

// readChildBoxes decodes the payload of a container box as a box list,
// starting skip bytes into the payload.
func readChildBoxes(h *boxHeader, skip int) ([]Box, error) {
	if skip > len(h.payload) {
		return nil, fmt.Errorf("%s: payload too short (%d bytes)", h.typ, len(h.payload))
	}
	r := newPayloadReader(h.payload[skip:])
	return readBoxes(r, h.payloadOffset()+int64(skip), false)
}

func newBox(h boxHeader) (Box, error) {
	switch h.typ {
	case TypeFtyp:
		return newFileTypeBox(h)
	case TypeMeta:
		return newMetaBox(h)
	case TypeHdlr:
		return newHandlerReferenceBox(h)
	case TypePitm:
		return newPrimaryItemBox(h)
	case TypeIinf:
		return newItemInformationBox(h)
	case TypeInfe:
		return newItemInfoEntryBox(h)
	case TypeIloc:
		return newItemLocationBox(h)
	case TypeMdat:
		return &MediaDataBox{boxHeader: h}, nil
	case TypeMoov:
		children, err := readChildBoxes(&h, 0)
		if err != nil {
			return nil, err
		}
		return &MovieBox{boxHeader: h, Boxes: children}, nil
	case TypeTrak:
		children, err := readChildBoxes(&h, 0)
		if err != nil {
			return nil, err
		}
		return &TrackBox{boxHeader: h, Boxes: children}, nil
	case TypeMdia:
		children, err := readChildBoxes(&h, 0)
		if err != nil {
			return nil, err
		}
		return &MediaBox{boxHeader: h, Boxes: children}, nil
	case TypeUUID:
		return newUUIDBox(h)
	case TypeExif:
		return newExifBox(h)
	case TypeXML:
		return &XMLBox{boxHeader: h}, nil
	case TypeJxlp:
		return newPartialCodestreamBox(h), nil
	case TypeBrob:
		return newCompressedBox(h)
	default:
		return newGenericBox(h), nil
	}
}

// findBox returns the first box of type T in boxes.
func findBox[T Box](boxes []Box) (T, bool) {
	for _, b := range boxes {
		if v, ok := b.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// findBoxByType returns the first box with the given type.
func findBoxByType(boxes []Box, typ BoxType) Box {
	for _, b := range boxes {
		if b.Type() == typ {
			return b
		}
	}
	return nil
}
