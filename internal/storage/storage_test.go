// Package storage provides unit tests for the per-generation writer and reader.
package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aether-kv/aether-kv/internal/record"
)

const testEntrySize = uint32(64)

func openPair(t *testing.T) (*Writer, *Reader, string, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "0")
	dataPath := filepath.Join(dir, "0.data")

	logFileW, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("opening log file for writer: %v", err)
	}
	dataFileW, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("opening data file for writer: %v", err)
	}
	w, err := OpenWriter(logFileW, dataFileW, testEntrySize)
	if err != nil {
		t.Fatalf("OpenWriter() error = %v", err)
	}

	logFileR, err := os.OpenFile(logPath, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("opening log file for reader: %v", err)
	}
	dataFileR, err := os.OpenFile(dataPath, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("opening data file for reader: %v", err)
	}
	r, err := OpenReader(logFileR, dataFileR, testEntrySize)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}

	return w, r, logPath, dataPath
}

func TestWriteEntryThenReadBack(t *testing.T) {
	w, r, _, _ := openPair(t)
	defer w.Close()
	defer r.Close()

	entry := record.MemEntry{
		Kind:  record.EntrySet,
		Key:   record.StringValue("k1"),
		Value: record.StringValue("v1"),
	}

	pos, err := w.WriteEntry(entry)
	if err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}
	if pos != 0 {
		t.Fatalf("WriteEntry() position = %d, want 0", pos)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got, present, err := r.EntryAt(0)
	if err != nil {
		t.Fatalf("EntryAt() error = %v", err)
	}
	if !present {
		t.Fatal("EntryAt(0) reported absent after a write")
	}
	if got.Kind != record.EntrySet || got.Key.Str != "k1" || got.Value.Str != "v1" {
		t.Errorf("EntryAt(0) = %+v, want Set{k1,v1}", got)
	}
}

func TestWriteEntryIncrementsPosition(t *testing.T) {
	w, r, _, _ := openPair(t)
	defer w.Close()
	defer r.Close()

	for i, key := range []string{"a", "b", "c"} {
		pos, err := w.WriteEntry(record.MemEntry{
			Kind:  record.EntrySet,
			Key:   record.StringValue(key),
			Value: record.StringValue(key + key),
		})
		if err != nil {
			t.Fatalf("WriteEntry(%q) error = %v", key, err)
		}
		if pos != uint64(i) {
			t.Fatalf("WriteEntry(%q) position = %d, want %d", key, pos, i)
		}
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	for i, key := range []string{"a", "b", "c"} {
		got, present, err := r.EntryAt(uint64(i))
		if err != nil {
			t.Fatalf("EntryAt(%d) error = %v", i, err)
		}
		if !present || got.Key.Str != key {
			t.Errorf("EntryAt(%d) = %+v, want key %q", i, got, key)
		}
	}
}

func TestReadEntryPastEndReturnsAbsent(t *testing.T) {
	w, r, _, _ := openPair(t)
	defer w.Close()
	defer r.Close()

	if _, err := w.WriteEntry(record.MemEntry{
		Kind:  record.EntrySet,
		Key:   record.StringValue("only"),
		Value: record.StringValue("value"),
	}); err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	_, present, err := r.EntryAt(5)
	if err != nil {
		t.Fatalf("EntryAt(5) error = %v", err)
	}
	if present {
		t.Error("EntryAt(5) reported present past the last written slot")
	}
}

func TestRemoveEntryRoundTrip(t *testing.T) {
	w, r, _, _ := openPair(t)
	defer w.Close()
	defer r.Close()

	if _, err := w.WriteEntry(record.MemEntry{Kind: record.EntryRemove, Key: record.StringValue("gone")}); err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got, present, err := r.EntryAt(0)
	if err != nil {
		t.Fatalf("EntryAt(0) error = %v", err)
	}
	if !present || got.Kind != record.EntryRemove || got.Key.Str != "gone" {
		t.Errorf("EntryAt(0) = %+v, want Remove{gone}", got)
	}
}

func TestSetPosRepositionsForAppend(t *testing.T) {
	w, r, logPath, dataPath := openPair(t)

	if _, err := w.WriteEntry(record.MemEntry{Kind: record.EntrySet, Key: record.StringValue("a"), Value: record.StringValue("1")}); err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Simulate recovery: reopen fresh handles and tell the writer to resume
	// appending after the one record already on disk.
	logFileW, err := os.OpenFile(logPath, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopening log file: %v", err)
	}
	dataFileW, err := os.OpenFile(dataPath, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopening data file: %v", err)
	}
	w2, err := OpenWriter(logFileW, dataFileW, testEntrySize)
	if err != nil {
		t.Fatalf("OpenWriter() error = %v", err)
	}
	defer w2.Close()

	if err := w2.SetPos(1); err != nil {
		t.Fatalf("SetPos() error = %v", err)
	}

	pos, err := w2.WriteEntry(record.MemEntry{Kind: record.EntrySet, Key: record.StringValue("b"), Value: record.StringValue("2")})
	if err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}
	if pos != 1 {
		t.Fatalf("WriteEntry() position = %d, want 1", pos)
	}
	if err := w2.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	logFileR, err := os.OpenFile(logPath, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopening log file for reader: %v", err)
	}
	dataFileR, err := os.OpenFile(dataPath, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopening data file for reader: %v", err)
	}
	r2, err := OpenReader(logFileR, dataFileR, testEntrySize)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer r2.Close()

	first, present, err := r2.EntryAt(0)
	if err != nil || !present || first.Key.Str != "a" {
		t.Errorf("EntryAt(0) = %+v, present=%v, err=%v, want key \"a\"", first, present, err)
	}
	second, present, err := r2.EntryAt(1)
	if err != nil || !present || second.Key.Str != "b" {
		t.Errorf("EntryAt(1) = %+v, present=%v, err=%v, want key \"b\"", second, present, err)
	}
}
