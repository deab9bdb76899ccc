// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var errNoXMP = errors.New("no XMP data")

var xmpSkipNamespaces = map[string]bool{
	"xmlns": true,
	"http://www.w3.org/1999/02/22-rdf-syntax-ns#": true,
	"http://purl.org/dc/elements/1.1/":            true,
}

type rdf struct {
	XMLName      xml.Name
	Descriptions []rdfDescription `xml:"Description"`
}

// Note: We currently only handle a subset of XMP tags,
// but a very common subset.
type rdfDescription struct {
	XMLName   xml.Name
	Attrs     []xml.Attr `xml:",any,attr"`
	Creator   seqList    `xml:"creator"`
	Publisher bagList    `xml:"publisher"`
	Subject   bagList    `xml:"subject"`
	Rights    altList    `xml:"rights"`

	GPSLatitude  string `xml:"GPSLatitude"`
	GPSLongitude string `xml:"GPSLongitude"`
}

type altList struct {
	XMLName xml.Name
	Alt     struct {
		Items []string `xml:"li"`
	} `xml:"Alt"`
}

type seqList struct {
	XMLName xml.Name
	Seq     struct {
		Items []string `xml:"li"`
	} `xml:"Seq"`
}

type bagList struct {
	XMLName xml.Name
	Bag     struct {
		Items []string `xml:"li"`
	} `xml:"Bag"`
}

type xmpmeta struct {
	XMLName xml.Name
	RDF     rdf `xml:"RDF"`
}

// decodeXMPText decodes an XMP packet as UTF-8, honouring a byte order mark.
// Invalid bytes are replaced with U+FFFD.
func decodeXMPText(b []byte) (string, error) {
	dec := xunicode.BOMOverride(xunicode.UTF8.NewDecoder())
	s, _, err := transform.Bytes(dec, b)
	if err != nil {
		return "", newInvalidFormatError(fmt.Errorf("decoding XMP: %w", err))
	}
	// Some writers pad the packet with NUL bytes.
	return strings.TrimRight(string(s), "\x00"), nil
}

// XMPTags decodes the XMP packet in r.
// The default decoder is currently very simple: it decodes the
// rdf:Description attributes and a few common child elements.
func (r Result) XMPTags() ([]TagInfo, error) {
	if r.XMP == "" {
		return nil, errNoXMP
	}

	var meta xmpmeta
	if err := xml.NewDecoder(strings.NewReader(r.XMP)).Decode(&meta); err != nil {
		return nil, newInvalidFormatError(fmt.Errorf("decoding XMP: %w", err))
	}

	var tags []TagInfo
	for _, desc := range meta.RDF.Descriptions {
		for _, attr := range desc.Attrs {
			if xmpSkipNamespaces[attr.Name.Space] {
				continue
			}
			tags = append(tags, TagInfo{
				Source:    XMP,
				Tag:       firstUpper(attr.Name.Local),
				Namespace: attr.Name.Space,
				Value:     attr.Value,
			})
		}

		tags = appendListTag(tags, desc.Creator.XMLName, desc.Creator.Seq.Items)
		tags = appendListTag(tags, desc.Publisher.XMLName, desc.Publisher.Bag.Items)
		tags = appendListTag(tags, desc.Subject.XMLName, desc.Subject.Bag.Items)
		tags = appendListTag(tags, desc.Rights.XMLName, desc.Rights.Alt.Items)

		// GPS coordinates in XMP are typically in DMS format like "26,34.951N".
		if lat, err := parseXMPGPSCoordinate(desc.GPSLatitude); err == nil {
			tags = append(tags, gpsTag("GPSLatitude", lat))
		}
		if long, err := parseXMPGPSCoordinate(desc.GPSLongitude); err == nil {
			tags = append(tags, gpsTag("GPSLongitude", long))
		}
	}

	return tags, nil
}

func appendListTag(tags []TagInfo, name xml.Name, items []string) []TagInfo {
	if len(items) == 0 || name.Local == "" {
		return tags
	}
	var v any

	// This is how ExifTool does it:
	if len(items) == 1 {
		v = items[0]
	} else {
		v = items
	}

	return append(tags, TagInfo{
		Source:    XMP,
		Tag:       firstUpper(name.Local),
		Namespace: name.Space,
		Value:     v,
	})
}

func gpsTag(tag string, value float64) TagInfo {
	return TagInfo{
		Source:    XMP,
		Tag:       tag,
		Namespace: "http://ns.adobe.com/exif/1.0/",
		Value:     value,
	}
}

func firstUpper(s string) string {
	if s == "" {
		return ""
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

// parseXMPGPSCoordinate parses GPS coordinates from XMP format.
// XMP GPS coordinates can be in several formats:
// - DMS with direction: "26,34.951N" or "80,12.014W"
// - Decimal with direction: "26.5825N" or "80.2002W"
// - Pure decimal: "26.5825" or "-80.2002"
func parseXMPGPSCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty coordinate")
	}

	var negative bool
	switch s[len(s)-1] {
	case 'S', 's', 'W', 'w':
		negative = true
		s = s[:len(s)-1]
	case 'N', 'n', 'E', 'e':
		s = s[:len(s)-1]
	}

	var degrees float64
	if deg, mins, found := strings.Cut(s, ","); found {
		d, err := strconv.ParseFloat(deg, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing degrees: %w", err)
		}
		m, err := strconv.ParseFloat(mins, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing minutes: %w", err)
		}
		degrees = d + m/60.0
	} else {
		var err error
		degrees, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing decimal: %w", err)
		}
	}

	if negative {
		degrees = -degrees
	}

	return degrees, nil
}
