package oscompat

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/chevah/oscompat/data"
)

// NTFS reparse point codec for symbolic links. Kept portable so the wire
// layout is covered by tests on any development host; only the Windows
// engine issues the actual ioctl.

// reparseTagSymlink identifies an IO_REPARSE_TAG_SYMLINK buffer.
const reparseTagSymlink = 0xA000000C

// symlinkFlagRelative marks a target stored relative to the link parent.
const symlinkFlagRelative = 0x00000001

// reparseHeaderSize covers tag, data length, reserved, the four name
// offsets/lengths and the symlink flags.
const reparseHeaderSize = 20

// SymbolicLinkReparse is the decoded payload of a symlink reparse point.
type SymbolicLinkReparse struct {
	// SubstituteName is the target in NT object namespace form, already
	// normalized from \??\ to the Win32 \\?\ spelling.
	SubstituteName string
	// PrintName is the user-facing target path.
	PrintName string
	// Relative marks a target resolved against the link parent folder.
	Relative bool
}

// decodeReparseData parses a REPARSE_DATA_BUFFER as returned by
// FSCTL_GET_REPARSE_POINT. Buffers that are not symbolic links fail with
// ErrNotALink.
func decodeReparseData(buffer []byte) (*SymbolicLinkReparse, error) {
	if len(buffer) < reparseHeaderSize {
		return nil, fmt.Errorf(
			"%w: reparse buffer too short", data.ErrNotALink)
	}

	tag := binary.LittleEndian.Uint32(buffer[0:4])
	if tag != reparseTagSymlink {
		return nil, fmt.Errorf(
			"%w: unsupported reparse tag 0x%08X", data.ErrNotALink, tag)
	}

	// The data length counts everything after the 8-byte outer header.
	dataLength := int(binary.LittleEndian.Uint16(buffer[4:6]))
	if 8+dataLength > len(buffer) {
		return nil, fmt.Errorf(
			"%w: truncated reparse buffer", data.ErrNotALink)
	}

	substituteOffset := int(binary.LittleEndian.Uint16(buffer[8:10]))
	substituteLength := int(binary.LittleEndian.Uint16(buffer[10:12]))
	printOffset := int(binary.LittleEndian.Uint16(buffer[12:14]))
	printLength := int(binary.LittleEndian.Uint16(buffer[14:16]))
	flags := binary.LittleEndian.Uint32(buffer[16:20])

	pathBuffer := buffer[reparseHeaderSize:]
	substitute, err := utf16Field(pathBuffer, substituteOffset, substituteLength)
	if err != nil {
		return nil, err
	}
	print, err := utf16Field(pathBuffer, printOffset, printLength)
	if err != nil {
		return nil, err
	}

	return &SymbolicLinkReparse{
		SubstituteName: normalizeNTName(substitute),
		PrintName:      print,
		Relative:       flags&symlinkFlagRelative != 0,
	}, nil
}

// Encode builds the REPARSE_DATA_BUFFER for the link, with the print name
// stored after the substitute name.
func (r *SymbolicLinkReparse) Encode() []byte {
	substitute := encodeUTF16(r.SubstituteName)
	print := encodeUTF16(r.PrintName)

	dataLength := 12 + len(substitute) + len(print)
	buffer := make([]byte, reparseHeaderSize+len(substitute)+len(print))

	binary.LittleEndian.PutUint32(buffer[0:4], reparseTagSymlink)
	binary.LittleEndian.PutUint16(buffer[4:6], uint16(dataLength))
	// buffer[6:8] is the reserved field.
	binary.LittleEndian.PutUint16(buffer[8:10], 0)
	binary.LittleEndian.PutUint16(buffer[10:12], uint16(len(substitute)))
	binary.LittleEndian.PutUint16(buffer[12:14], uint16(len(substitute)))
	binary.LittleEndian.PutUint16(buffer[14:16], uint16(len(print)))
	var flags uint32
	if r.Relative {
		flags = symlinkFlagRelative
	}
	binary.LittleEndian.PutUint32(buffer[16:20], flags)

	copy(buffer[reparseHeaderSize:], substitute)
	copy(buffer[reparseHeaderSize+len(substitute):], print)
	return buffer
}

func utf16Field(pathBuffer []byte, offset, length int) (string, error) {
	if offset < 0 || length < 0 || offset+length > len(pathBuffer) ||
		length%2 != 0 {
		return "", fmt.Errorf(
			"%w: reparse name outside the path buffer", data.ErrNotALink)
	}
	raw := pathBuffer[offset : offset+length]
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return string(utf16.Decode(units)), nil
}

func encodeUTF16(value string) []byte {
	units := utf16.Encode([]rune(value))
	raw := make([]byte, 2*len(units))
	for i, unit := range units {
		binary.LittleEndian.PutUint16(raw[2*i:], unit)
	}
	return raw
}

// normalizeNTName rewrites the NT object namespace prefix \??\ into the
// Win32 extended-length prefix so callers never see kernel syntax.
func normalizeNTName(name string) string {
	if len(name) >= 4 && name[:4] == `\??\` {
		return ntLongPrefix + name[4:]
	}
	return name
}
