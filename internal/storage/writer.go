// Package storage provides the per-generation log writer and reader that
// back the key-value engine: fixed-size slots in the log file, variable
// length payloads appended to a parallel data file.
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aether-kv/aether-kv/internal/record"
)

// ErrOverflow is returned by WriteEntry when a generation's log has reached
// maxEntriesPerGeneration and cannot accept another entry.
var ErrOverflow = errors.New("storage: generation overflow")

// Writer appends entries to one generation's log file and the variable
// length payloads they reference to its data file. It owns independent
// buffered handles onto both files; a Reader opened over the same paths
// uses its own handles so seeks on one side never disturb the other.
type Writer struct {
	mu sync.Mutex

	logFile *os.File
	log     *bufio.Writer

	dataFile *os.File
	data     *bufio.Writer

	entrySize uint32
	entryPos  uint64
	dataPos   uint64

	batchSize    uint32
	syncInterval time.Duration
	lastFlush    time.Time
}

// OpenWriter wraps already-open log and data file handles. The caller is
// responsible for positioning logFile as it wants appends to start; a
// freshly opened generation starts it at 0, while recovery repositions it to
// just past the last replayed record via SetPos. dataFile is seeked to its
// end here, so payloads are always appended after existing data.
func OpenWriter(logFile, dataFile *os.File, entrySize uint32) (*Writer, error) {
	return OpenWriterWithBatching(logFile, dataFile, entrySize, 0, 0)
}

// OpenWriterWithBatching is OpenWriter plus auto-flush thresholds: WriteEntry
// flushes on its own once the buffered data exceeds batchSize bytes or
// syncInterval has elapsed since the last flush, mirroring the teacher's
// batch-size/sync-interval auto-flush policy. A zero batchSize or
// syncInterval disables that respective trigger.
func OpenWriterWithBatching(logFile, dataFile *os.File, entrySize, batchSize uint32, syncInterval time.Duration) (*Writer, error) {
	dataEnd, err := dataFile.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("storage: seeking data file to end: %w", err)
	}

	w := &Writer{
		logFile:      logFile,
		log:          bufio.NewWriter(logFile),
		dataFile:     dataFile,
		data:         bufio.NewWriter(dataFile),
		entrySize:    entrySize,
		dataPos:      uint64(dataEnd),
		batchSize:    batchSize,
		syncInterval: syncInterval,
		lastFlush:    time.Now(),
	}
	return w, nil
}

// Pos returns the next entry position this writer will use.
func (w *Writer) Pos() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entryPos
}

// SetPos repositions the writer so the next append lands at entryPos,
// immediately after the last entry a replay found. It seeks the underlying
// log file handle; the data file is left at its end-of-file position, where
// OpenWriter already seeked it.
func (w *Writer) SetPos(entryPos uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	off := int64(entryPos) * int64(w.entrySize)
	if _, err := w.logFile.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("storage: seeking log file to entry %d: %w", entryPos, err)
	}
	w.entryPos = entryPos
	return nil
}

func (w *Writer) writeValue(v record.MemValue) (record.FileValue, error) {
	switch v.Kind {
	case record.KindString:
		start := w.dataPos
		b := []byte(v.Str)
		n, err := w.data.Write(b)
		if err != nil {
			return record.FileValue{}, fmt.Errorf("storage: writing value payload: %w", err)
		}
		w.dataPos += uint64(n)
		return record.FileValue{Kind: record.KindString, Start: start, Len: uint64(n)}, nil
	case record.KindInt:
		return record.FileValue{Kind: record.KindInt, Int: v.Int}, nil
	default:
		return record.FileValue{}, fmt.Errorf("storage: unknown value kind %d", v.Kind)
	}
}

// maxEntriesPerGeneration bounds how far a single generation's log can
// grow. It sits far above CompactThreshold, which is expected to trigger
// compaction long before this is ever reached; it exists purely as a
// backstop against runaway growth if compaction is somehow disabled.
const maxEntriesPerGeneration = 1 << 24

// WriteEntry writes the string payloads of entry's key and value (if any)
// to the data file, encodes the resulting FileEntry to exactly entrySize
// bytes, and appends it to the log file. It returns the position the entry
// was written at. On any I/O error the position counter is not advanced.
// Slots are appended through a buffered writer rather than written at an
// explicit offset, and that buffered writer keeps its first write error, so
// a retry on the same Writer fails again instead of overwriting the slot.
func (w *Writer) WriteEntry(entry record.MemEntry) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.entryPos >= maxEntriesPerGeneration {
		return 0, fmt.Errorf("storage: generation exceeds %d entries: %w", maxEntriesPerGeneration, ErrOverflow)
	}

	key, err := w.writeValue(entry.Key)
	if err != nil {
		return 0, err
	}

	fe := record.FileEntry{Kind: entry.Kind, Key: key}
	if entry.Kind == record.EntrySet {
		value, err := w.writeValue(entry.Value)
		if err != nil {
			return 0, err
		}
		fe.Value = value
	}

	buf, err := record.Encode(fe, w.entrySize)
	if err != nil {
		return 0, fmt.Errorf("storage: encoding entry: %w", err)
	}

	if _, err := w.log.Write(buf); err != nil {
		return 0, fmt.Errorf("storage: writing log slot: %w", err)
	}

	if w.shouldAutoFlush() {
		slog.Debug("storage: batch size or sync interval reached, flushing",
			"buffered_log_bytes", w.log.Buffered(),
			"batch_size", w.batchSize,
			"sync_interval", w.syncInterval,
			"since_last_flush", time.Since(w.lastFlush))
		if err := w.flushLocked(); err != nil {
			return 0, fmt.Errorf("storage: auto-flush after write: %w", err)
		}
	}

	pos := w.entryPos
	w.entryPos++
	return pos, nil
}

func (w *Writer) shouldAutoFlush() bool {
	if w.batchSize > 0 && int64(w.log.Buffered()+w.data.Buffered()) >= int64(w.batchSize) {
		return true
	}
	if w.syncInterval > 0 && time.Since(w.lastFlush) >= w.syncInterval {
		return true
	}
	return false
}

// Flush flushes the data file before the log file. This ordering matters: a
// replayer must never observe a log record whose referenced data bytes
// have not themselves reached disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Sizes returns the current on-disk byte length of the log and data files.
// The writer must already be flushed for these to reflect everything
// written so far; compaction uses this right after a final Flush to learn
// the lengths it should record in the swap manifest.
func (w *Writer) Sizes() (logLen, dataLen int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	logInfo, err := w.logFile.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("storage: stat log file: %w", err)
	}
	dataInfo, err := w.dataFile.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("storage: stat data file: %w", err)
	}
	return logInfo.Size(), dataInfo.Size(), nil
}

func (w *Writer) flushLocked() error {
	if err := w.data.Flush(); err != nil {
		return fmt.Errorf("storage: flushing data file: %w", err)
	}
	if err := w.log.Flush(); err != nil {
		return fmt.Errorf("storage: flushing log file: %w", err)
	}
	w.lastFlush = time.Now()
	return nil
}

// Close flushes any buffered writes and closes both underlying files. A
// flush failure is logged but does not prevent the files from being closed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		slog.Error("storage: failed to flush writer before close", "error", err)
	}

	var firstErr error
	if err := w.dataFile.Close(); err != nil {
		firstErr = fmt.Errorf("storage: closing data file: %w", err)
	}
	if err := w.logFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("storage: closing log file: %w", err)
	}
	return firstErr
}
