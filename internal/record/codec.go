// Package record defines the on-disk and in-memory representations of a
// single log entry and their binary codec.
//
// FileEntry/FileValue are the on-disk forms: a Set or Remove command whose
// key and value are either a {start,len} reference into a generation's data
// file or an inline integer. MemEntry/MemValue are the resolved, in-memory
// forms produced once the data-file references have been read back.
//
// Encode zero-pads a FileEntry to exactly size bytes; Decode reads exactly
// that many bytes and treats an all-absent framing byte as "no record here"
// (the tail of a pre-allocated log file region).
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
)

// ErrDecode indicates a slot could not be deserialized into a well-formed
// entry: a bad frame byte, a bad tag byte, or a CRC mismatch.
var ErrDecode = errors.New("record: decode error")

// ValueKind distinguishes the two forms a key or value can take on disk.
type ValueKind uint8

const (
	KindString ValueKind = 0
	KindInt    ValueKind = 1
)

// EntryKind distinguishes a Set command from a Remove (tombstone) command.
type EntryKind uint8

const (
	EntrySet    EntryKind = 0
	EntryRemove EntryKind = 1
)

const (
	frameAbsent  byte = 0x00
	framePresent byte = 0x01
)

// valueSize is the fixed encoded size of a FileValue: 1 tag byte plus two
// uint64 fields (start+len for a string reference, or value+padding for an
// inline integer).
const valueSize = 17

// MinEncodedSize is the smallest entry size byte layout requires: frame +
// kind + key value + value value + CRC32.
const MinEncodedSize = 1 + 1 + valueSize + valueSize + 4

// FileValue is either a {start,len} reference into a generation's data file
// or an inline integer that needs no data-file storage.
type FileValue struct {
	Kind  ValueKind
	Start uint64
	Len   uint64
	Int   int64
}

// FileEntry is the on-disk form of a single Set or Remove command.
type FileEntry struct {
	Kind  EntryKind
	Key   FileValue
	Value FileValue // zero value when Kind == EntryRemove
}

// MemValue is a resolved, in-memory key or value: an actual string, or an
// inline integer.
type MemValue struct {
	Kind ValueKind
	Str  string
	Int  int64
}

// String renders the value the way a client would see it.
func (v MemValue) String() string {
	if v.Kind == KindInt {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Str
}

// StringValue builds a MemValue holding a string.
func StringValue(s string) MemValue { return MemValue{Kind: KindString, Str: s} }

// MemEntry is the resolved, in-memory form of a single Set or Remove command.
type MemEntry struct {
	Kind  EntryKind
	Key   MemValue
	Value MemValue // zero value when Kind == EntryRemove
}

// Encode serializes e into exactly size bytes, zero-padded past the encoded
// fields. size must be at least MinEncodedSize.
func Encode(e FileEntry, size uint32) ([]byte, error) {
	if size < MinEncodedSize {
		return nil, fmt.Errorf("record: entry size %d below minimum %d: %w", size, MinEncodedSize, ErrDecode)
	}

	buf := make([]byte, size)
	buf[0] = framePresent
	buf[1] = byte(e.Kind)
	encodeValue(buf[2:2+valueSize], e.Key)
	if e.Kind == EntrySet {
		encodeValue(buf[2+valueSize:2+2*valueSize], e.Value)
	}

	crcEnd := 2 + 2*valueSize
	crc := crc32.ChecksumIEEE(buf[1:crcEnd])
	binary.LittleEndian.PutUint32(buf[crcEnd:crcEnd+4], crc)

	return buf, nil
}

func encodeValue(dst []byte, v FileValue) {
	dst[0] = byte(v.Kind)
	switch v.Kind {
	case KindString:
		binary.LittleEndian.PutUint64(dst[1:9], v.Start)
		binary.LittleEndian.PutUint64(dst[9:17], v.Len)
	case KindInt:
		binary.LittleEndian.PutUint64(dst[1:9], uint64(v.Int))
	}
}

// Decode reads a single size-byte slot. The second return value is false
// (with a nil error) when the slot's framing byte marks it absent, i.e. the
// unwritten tail of a log file.
func Decode(buf []byte) (FileEntry, bool, error) {
	if len(buf) < MinEncodedSize {
		return FileEntry{}, false, fmt.Errorf("record: slot of %d bytes below minimum %d: %w", len(buf), MinEncodedSize, ErrDecode)
	}

	switch buf[0] {
	case frameAbsent:
		return FileEntry{}, false, nil
	case framePresent:
	default:
		return FileEntry{}, false, fmt.Errorf("record: invalid frame byte %#x: %w", buf[0], ErrDecode)
	}

	crcEnd := 2 + 2*valueSize
	wantCRC := binary.LittleEndian.Uint32(buf[crcEnd : crcEnd+4])
	if gotCRC := crc32.ChecksumIEEE(buf[1:crcEnd]); gotCRC != wantCRC {
		return FileEntry{}, false, fmt.Errorf("record: crc mismatch: got %d, want %d: %w", gotCRC, wantCRC, ErrDecode)
	}

	var kind EntryKind
	switch buf[1] {
	case byte(EntrySet):
		kind = EntrySet
	case byte(EntryRemove):
		kind = EntryRemove
	default:
		return FileEntry{}, false, fmt.Errorf("record: unknown entry kind %d: %w", buf[1], ErrDecode)
	}

	key, err := decodeValue(buf[2 : 2+valueSize])
	if err != nil {
		return FileEntry{}, false, err
	}

	entry := FileEntry{Kind: kind, Key: key}
	if kind == EntrySet {
		value, err := decodeValue(buf[2+valueSize : 2+2*valueSize])
		if err != nil {
			return FileEntry{}, false, err
		}
		entry.Value = value
	}

	return entry, true, nil
}

func decodeValue(src []byte) (FileValue, error) {
	switch src[0] {
	case byte(KindString):
		return FileValue{
			Kind:  KindString,
			Start: binary.LittleEndian.Uint64(src[1:9]),
			Len:   binary.LittleEndian.Uint64(src[9:17]),
		}, nil
	case byte(KindInt):
		return FileValue{
			Kind: KindInt,
			Int:  int64(binary.LittleEndian.Uint64(src[1:9])),
		}, nil
	default:
		return FileValue{}, fmt.Errorf("record: unknown value kind %d: %w", src[0], ErrDecode)
	}
}
