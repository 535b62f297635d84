package storage

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aether-kv/aether-kv/internal/record"
)

// Reader seeks to an arbitrary entry position in a generation's log file,
// decodes the slot found there, and resolves any {start,len} value
// references by random-access read from the data file. It holds its own
// (unbuffered) file handles, independent of any Writer over the same files.
type Reader struct {
	mu sync.Mutex

	logFile *os.File
	dataFile *os.File

	entrySize uint32
	entryBuf  []byte
}

// OpenReader wraps already-open log and data file handles.
func OpenReader(logFile, dataFile *os.File, entrySize uint32) (*Reader, error) {
	r := &Reader{
		logFile:   logFile,
		dataFile:  dataFile,
		entrySize: entrySize,
		entryBuf:  make([]byte, entrySize),
	}
	if err := r.seekLocked(0); err != nil {
		return nil, err
	}
	return r, nil
}

// Seek repositions the log reader to the start of entry slot pos. It is an
// error for the resulting file offset not to land exactly on pos*entrySize,
// which guards against a corrupted position slipping past undetected.
func (r *Reader) Seek(pos uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seekLocked(pos)
}

func (r *Reader) seekLocked(pos uint64) error {
	want := int64(pos) * int64(r.entrySize)
	got, err := r.logFile.Seek(want, io.SeekStart)
	if err != nil {
		return fmt.Errorf("storage: seeking log file to entry %d: %w", pos, err)
	}
	if got != want {
		return fmt.Errorf("storage: seek to entry %d landed at byte %d, not %d", pos, got, want)
	}
	return nil
}

// ReadFileEntry reads exactly one entrySize-byte slot at the reader's
// current position and returns its on-disk form, without resolving value
// references. It returns (zero, false, nil) at EOF or on an absent framing
// byte, without advancing past a not-yet-written slot.
func (r *Reader) ReadFileEntry() (record.FileEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := io.ReadFull(r.logFile, r.entryBuf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return record.FileEntry{}, false, nil
		}
		return record.FileEntry{}, false, fmt.Errorf("storage: reading log slot: %w", err)
	}

	entry, present, err := record.Decode(r.entryBuf)
	if err != nil {
		return record.FileEntry{}, false, fmt.Errorf("storage: decoding log slot: %w", err)
	}
	if !present {
		if _, err := r.logFile.Seek(-int64(r.entrySize), io.SeekCurrent); err != nil {
			return record.FileEntry{}, false, fmt.Errorf("storage: rewinding to absent log slot: %w", err)
		}
	}
	return entry, present, nil
}

// LookupValue resolves a single FileValue: a string reference is read back
// from the data file, an inline integer is returned as-is.
func (r *Reader) LookupValue(v record.FileValue) (record.MemValue, error) {
	switch v.Kind {
	case record.KindString:
		buf := make([]byte, v.Len)
		if v.Len > 0 {
			r.mu.Lock()
			_, err := r.dataFile.ReadAt(buf, int64(v.Start))
			r.mu.Unlock()
			if err != nil {
				return record.MemValue{}, fmt.Errorf("storage: reading value payload at %d (%d bytes): %w", v.Start, v.Len, err)
			}
		}
		return record.MemValue{Kind: record.KindString, Str: string(buf)}, nil
	case record.KindInt:
		return record.MemValue{Kind: record.KindInt, Int: v.Int}, nil
	default:
		return record.MemValue{}, fmt.Errorf("storage: unknown value kind %d", v.Kind)
	}
}

// ResolveEntry resolves a FileEntry already read via ReadFileEntry into a
// fully in-memory entry, without consuming any further input. Compaction
// uses this to inspect a raw slot's value before deciding whether to keep
// it, without disturbing the reader's position.
func (r *Reader) ResolveEntry(fe record.FileEntry) (record.MemEntry, error) {
	return r.resolve(fe)
}

func (r *Reader) resolve(fe record.FileEntry) (record.MemEntry, error) {
	key, err := r.LookupValue(fe.Key)
	if err != nil {
		return record.MemEntry{}, err
	}
	entry := record.MemEntry{Kind: fe.Kind, Key: key}
	if fe.Kind == record.EntrySet {
		value, err := r.LookupValue(fe.Value)
		if err != nil {
			return record.MemEntry{}, err
		}
		entry.Value = value
	}
	return entry, nil
}

// ReadEntry reads one slot and resolves its value references into a
// fully in-memory entry.
func (r *Reader) ReadEntry() (record.MemEntry, bool, error) {
	fe, present, err := r.ReadFileEntry()
	if err != nil || !present {
		return record.MemEntry{}, present, err
	}
	entry, err := r.resolve(fe)
	if err != nil {
		return record.MemEntry{}, false, err
	}
	return entry, true, nil
}

// EntryAt seeks to pos and reads the entry found there.
func (r *Reader) EntryAt(pos uint64) (record.MemEntry, bool, error) {
	if err := r.Seek(pos); err != nil {
		return record.MemEntry{}, false, err
	}
	return r.ReadEntry()
}

// Close closes both underlying files.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if err := r.dataFile.Close(); err != nil {
		firstErr = fmt.Errorf("storage: closing data file: %w", err)
	}
	if err := r.logFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("storage: closing log file: %w", err)
	}
	return firstErr
}
