// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// MetaBox is the meta box of a HEIF/AVIF file.
type MetaBox struct {
	boxHeader
	Version uint8
	Flags   uint32
	Boxes   []Box

	HandlerReference *HandlerReferenceBox
	PrimaryItem      *PrimaryItemBox
	ItemInformation  *ItemInformationBox
	ItemLocation     *ItemLocationBox
}

// ItemInformationBox is the iinf box.
type ItemInformationBox struct {
	boxHeader
	Version    uint8
	Flags      uint32
	EntryCount uint32
	Boxes      []Box

	// Entries maps item ID to its entry.
	Entries map[uint32]*ItemInfoEntryBox
}

// ItemInfoEntryBox is the infe box.
// Only versions 2 and 3 are supported.
type ItemInfoEntryBox struct {
	boxHeader
	Version             uint8
	Flags               uint32
	ItemID              uint32
	ItemProtectionIndex uint16
	ItemType            uint32
	ItemName            string
}

// ItemLocationBox is the iloc box.
type ItemLocationBox struct {
	boxHeader
	Version        uint8
	Flags          uint32
	OffsetSize     int
	LengthSize     int
	BaseOffsetSize int
	IndexSize      int
	ItemCount      uint32

	// Extents sorted by Offset.
	Extents []Extent
}

// Extent is a contiguous byte range backing (part of) an item.
type Extent struct {
	ItemID uint32
	// Index is only set if HasIndex is true.
	Index    uint64
	HasIndex bool
	// ConstructionMethod is 0 for file offsets, 1 for idat offsets and 2 for item offsets.
	ConstructionMethod uint8
	// Offset is the extent offset plus the item's base offset.
	Offset uint64
	Length uint64
}

// MetadataOffset is the location of an EXIF or XMP blob in the source stream.
type MetadataOffset struct {
	Source Source
	Offset uint64
	Length uint64
}

func newMetaBox(h boxHeader) (*MetaBox, error) {
	r := newPayloadReader(h.payload)
	b := &MetaBox{boxHeader: h}
	b.Version = r.read1()
	b.Flags = r.read3()
	if err := r.err(); err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	var err error
	b.Boxes, err = readBoxes(r, h.payloadOffset(), false)
	if err != nil {
		return nil, err
	}

	var ok bool
	if b.HandlerReference, ok = findBox[*HandlerReferenceBox](b.Boxes); !ok {
		return nil, fmt.Errorf("meta: missing mandatory %q box", TypeHdlr)
	}
	if b.PrimaryItem, ok = findBox[*PrimaryItemBox](b.Boxes); !ok {
		return nil, fmt.Errorf("meta: missing mandatory %q box", TypePitm)
	}
	if b.ItemInformation, ok = findBox[*ItemInformationBox](b.Boxes); !ok {
		return nil, fmt.Errorf("meta: missing mandatory %q box", TypeIinf)
	}
	if b.ItemLocation, ok = findBox[*ItemLocationBox](b.Boxes); !ok {
		return nil, fmt.Errorf("meta: missing mandatory %q box", TypeIloc)
	}

	return b, nil
}

func newItemInformationBox(h boxHeader) (*ItemInformationBox, error) {
	r := newPayloadReader(h.payload)
	b := &ItemInformationBox{boxHeader: h}
	b.Version = r.read1()
	b.Flags = r.read3()
	if b.Version == 0 {
		b.EntryCount = uint32(r.read2())
	} else {
		b.EntryCount = r.read4()
	}
	if err := r.err(); err != nil {
		return nil, fmt.Errorf("iinf: %w", err)
	}

	var err error
	b.Boxes, err = readBoxes(r, h.payloadOffset(), false)
	if err != nil {
		return nil, err
	}

	b.Entries = make(map[uint32]*ItemInfoEntryBox)
	for _, child := range b.Boxes {
		if e, ok := child.(*ItemInfoEntryBox); ok {
			b.Entries[e.ItemID] = e
		}
	}

	return b, nil
}

func newItemInfoEntryBox(h boxHeader) (*ItemInfoEntryBox, error) {
	r := newPayloadReader(h.payload)
	b := &ItemInfoEntryBox{boxHeader: h}
	b.Version = r.read1()
	b.Flags = r.read3()
	switch b.Version {
	case 2:
		b.ItemID = uint32(r.read2())
	case 3:
		b.ItemID = r.read4()
	default:
		if r.err() == nil {
			return nil, fmt.Errorf("infe: unsupported version %d", b.Version)
		}
	}
	b.ItemProtectionIndex = r.read2()
	b.ItemType = r.read4()
	if err := r.err(); err != nil {
		return nil, fmt.Errorf("infe: %w", err)
	}
	b.ItemName = r.readNullTerminatedString()
	return b, nil
}

func newItemLocationBox(h boxHeader) (*ItemLocationBox, error) {
	r := newPayloadReader(h.payload)
	b := &ItemLocationBox{boxHeader: h}
	b.Version = r.read1()
	b.Flags = r.read3()
	if r.err() == nil && b.Version > 2 {
		return nil, fmt.Errorf("iloc: unsupported version %d", b.Version)
	}

	b1 := r.read1()
	b.OffsetSize = int(b1 >> 4)
	b.LengthSize = int(b1 & 0x0f)
	b2 := r.read1()
	b.BaseOffsetSize = int(b2 >> 4)
	if b.Version == 1 || b.Version == 2 {
		b.IndexSize = int(b2 & 0x0f)
	}
	for _, f := range []struct {
		name string
		size int
	}{
		{"offset", b.OffsetSize},
		{"length", b.LengthSize},
		{"base offset", b.BaseOffsetSize},
		{"index", b.IndexSize},
	} {
		if f.size != 0 && f.size != 4 && f.size != 8 {
			return nil, fmt.Errorf("iloc: invalid %s size %d", f.name, f.size)
		}
	}

	if b.Version < 2 {
		b.ItemCount = uint32(r.read2())
	} else {
		b.ItemCount = r.read4()
	}

	for i := uint32(0); i < b.ItemCount && r.err() == nil; i++ {
		var itemID uint32
		if b.Version < 2 {
			itemID = uint32(r.read2())
		} else {
			itemID = r.read4()
		}

		var constructionMethod uint8
		if b.Version == 1 || b.Version == 2 {
			constructionMethod = uint8(r.read2() & 0x0f)
		}
		r.skip(2) // data_reference_index

		baseOffset := r.readVarUint(b.BaseOffsetSize)

		extentCount := r.read2()
		if b.IndexSize+b.OffsetSize+b.LengthSize == 0 && extentCount > 1 {
			return nil, fmt.Errorf("iloc: item %d has %d empty extents", itemID, extentCount)
		}
		for j := uint16(0); j < extentCount && r.err() == nil; j++ {
			e := Extent{
				ItemID:             itemID,
				ConstructionMethod: constructionMethod,
			}
			if b.IndexSize > 0 {
				e.Index = r.readVarUint(b.IndexSize)
				e.HasIndex = true
			}
			offset := r.readVarUint(b.OffsetSize)
			if offset > math.MaxUint64-baseOffset {
				return nil, fmt.Errorf("iloc: item %d extent offset %d overflows with base offset %d", itemID, offset, baseOffset)
			}
			e.Offset = offset + baseOffset
			e.Length = r.readVarUint(b.LengthSize)
			b.Extents = append(b.Extents, e)
		}
	}

	if err := r.err(); err != nil {
		return nil, fmt.Errorf("iloc: %w", err)
	}

	slices.SortStableFunc(b.Extents, func(x, y Extent) int {
		return cmp.Compare(x.Offset, y.Offset)
	})

	return b, nil
}

// MetadataOffsets returns the locations of the EXIF and XMP items, sorted by offset.
func (b *MetaBox) MetadataOffsets() []MetadataOffset {
	return b.findMetadataOffsets(func(string, ...any) {})
}

// Extents are sorted, so the result is too.
func (b *MetaBox) findMetadataOffsets(warnf func(string, ...any)) []MetadataOffset {
	var offsets []MetadataOffset
	for _, e := range b.ItemLocation.Extents {
		entry, found := b.ItemInformation.Entries[e.ItemID]
		if !found {
			continue
		}

		var source Source
		switch entry.ItemType {
		case itemTypeExif:
			source = EXIF
		case itemTypeMime:
			// The only MIME typed item seen in the wild is application/rdf+xml.
			source = XMP
		case itemTypeIPTC:
			warnf("bmffmeta: skipping IPTC item %d; IPTC is not supported in ISOBMFF", e.ItemID)
			continue
		default:
			continue
		}

		if e.ConstructionMethod != 0 {
			warnf("bmffmeta: skipping %s item %d with construction method %d", source, e.ItemID, e.ConstructionMethod)
			continue
		}

		offsets = append(offsets, MetadataOffset{Source: source, Offset: e.Offset, Length: e.Length})
	}

	return offsets
}
