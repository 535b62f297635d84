// Package engine implements the log-structured key-value storage engine:
// generation-numbered log/data file pairs, an in-memory key index, the
// write and read paths, and compaction.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aether-kv/aether-kv/internal/config"
	"github.com/aether-kv/aether-kv/internal/record"
	"github.com/aether-kv/aether-kv/internal/storage"
)

// Generation numbers a log/data file pair on disk.
type Generation = uint32

// Engine is the capability set every storage backend exposes: the builtin
// log-structured engine and the in-memory alt engine both satisfy it (see
// alt.go), so the server can select one at construction without an
// inheritance hierarchy.
type Engine interface {
	Set(key, value string) error
	Get(key string) (string, bool, error)
	Remove(key string) error
	Close() error
}

type indexEntry struct {
	gen Generation
	pos uint64
}

// KVEngine is the builtin log-structured Engine implementation. It owns
// every file handle under its directory and is the sole mutator of its
// in-memory index. Every exported method holds mu for its whole duration,
// so calls from the TCP server's per-connection goroutines run one at a time.
type KVEngine struct {
	mu sync.Mutex

	dir        string
	cfg        *config.Config
	currentGen Generation

	readers map[Generation]*storage.Reader
	writers map[Generation]*storage.Writer
	logLen  map[Generation]uint64

	index map[record.MemValue]indexEntry
}

var genNamePattern = regexp.MustCompile(`^\d+$`)

func generationName(gen Generation) string {
	return strconv.FormatUint(uint64(gen), 10)
}

// Open enumerates the generations present in dir, replays each into the
// in-memory index in ascending order, and sets the current generation to
// the highest one observed (0 if dir is empty).
func Open(dir string, cfg *config.Config) (*KVEngine, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("engine: opening %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("engine: %s: %w", dir, ErrNotADirectory)
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("engine: reading %s: %w", dir, err)
	}

	seen := map[Generation]bool{}
	var gens []Generation
	for _, de := range dirEntries {
		if !genNamePattern.MatchString(de.Name()) {
			continue
		}
		n, err := strconv.ParseUint(de.Name(), 10, 32)
		if err != nil {
			continue
		}
		g := Generation(n)
		if !seen[g] {
			seen[g] = true
			gens = append(gens, g)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })

	var current Generation
	if len(gens) > 0 {
		current = gens[len(gens)-1]
	}

	e := &KVEngine{
		dir:        dir,
		cfg:        cfg,
		currentGen: current,
		readers:    make(map[Generation]*storage.Reader),
		writers:    make(map[Generation]*storage.Writer),
		logLen:     make(map[Generation]uint64),
		index:      make(map[record.MemValue]indexEntry),
	}

	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	for g := Generation(0); g <= current; g++ {
		if err := e.openGeneration(g, manifest); err != nil {
			return nil, fmt.Errorf("engine: opening generation %d: %w", g, err)
		}
		n, err := e.loadGeneration(g)
		if err != nil {
			return nil, fmt.Errorf("engine: loading generation %d: %w", g, err)
		}
		e.logLen[g] = n
		slog.Info("engine: recovered generation", "gen", g, "entries", n)
	}

	slog.Info("engine: opened", "dir", dir, "current_gen", current, "keys", len(e.index))
	return e, nil
}

func (e *KVEngine) paths(gen Generation, temp bool) (logPath, dataPath string) {
	name := generationName(gen)
	if temp {
		name += "-temp"
	}
	return filepath.Join(e.dir, name), filepath.Join(e.dir, name+".data")
}

// openGeneration opens independent file handles for gen's log and data
// files (creating them if absent), constructing a fresh Reader and Writer
// over them. If handles for gen already exist (reopening after
// compaction), they are flushed and closed once the new ones are in place.
func (e *KVEngine) openGeneration(gen Generation, manifest manifest) error {
	logPath, dataPath := e.paths(gen, false)

	readerLog, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	readerData, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		readerLog.Close()
		return fmt.Errorf("opening data file %s: %w", dataPath, err)
	}

	logStat, err := readerLog.Stat()
	if err != nil {
		readerLog.Close()
		readerData.Close()
		return fmt.Errorf("stat %s: %w", logPath, err)
	}
	dataStat, err := readerData.Stat()
	if err != nil {
		readerLog.Close()
		readerData.Close()
		return fmt.Errorf("stat %s: %w", dataPath, err)
	}

	if logStat.Size()%int64(e.cfg.EntrySize) != 0 {
		readerLog.Close()
		readerData.Close()
		return fmt.Errorf("log file %s has length %d, not a multiple of entry size %d: %w",
			logPath, logStat.Size(), e.cfg.EntrySize, record.ErrDecode)
	}
	if manifest != nil {
		if err := checkManifestConsistency(manifest, gen, logStat.Size(), dataStat.Size()); err != nil {
			readerLog.Close()
			readerData.Close()
			return err
		}
	}

	writerLog, err := os.OpenFile(logPath, os.O_RDWR, 0o644)
	if err != nil {
		readerLog.Close()
		readerData.Close()
		return fmt.Errorf("reopening log file %s for writing: %w", logPath, err)
	}
	writerData, err := os.OpenFile(dataPath, os.O_RDWR, 0o644)
	if err != nil {
		readerLog.Close()
		readerData.Close()
		writerLog.Close()
		return fmt.Errorf("reopening data file %s for writing: %w", dataPath, err)
	}

	reader, err := storage.OpenReader(readerLog, readerData, e.cfg.EntrySize)
	if err != nil {
		readerLog.Close()
		readerData.Close()
		writerLog.Close()
		writerData.Close()
		return err
	}
	writer, err := storage.OpenWriterWithBatching(writerLog, writerData, e.cfg.EntrySize,
		e.cfg.BatchSize, time.Duration(e.cfg.SyncInterval)*time.Second)
	if err != nil {
		reader.Close()
		writerLog.Close()
		writerData.Close()
		return err
	}

	if old, ok := e.writers[gen]; ok {
		if err := old.Close(); err != nil {
			slog.Error("engine: failed to close previous writer", "gen", gen, "error", err)
		}
	}
	if old, ok := e.readers[gen]; ok {
		if err := old.Close(); err != nil {
			slog.Error("engine: failed to close previous reader", "gen", gen, "error", err)
		}
	}

	e.readers[gen] = reader
	e.writers[gen] = writer
	return nil
}

// loadGeneration replays gen's log from position 0, applying every record
// to the in-memory index, and leaves the generation's writer positioned to
// append immediately after the last record found. It returns the number of
// entries replayed.
func (e *KVEngine) loadGeneration(gen Generation) (uint64, error) {
	w := e.writers[gen]
	if err := w.Flush(); err != nil {
		return 0, err
	}

	r := e.readers[gen]
	if err := r.Seek(0); err != nil {
		return 0, err
	}

	var pos uint64
	for {
		entry, present, err := r.ReadEntry()
		if err != nil {
			return 0, fmt.Errorf("decoding entry at position %d: %w", pos, err)
		}
		if !present {
			break
		}
		e.applyIndex(entry, gen, pos)
		pos++
	}

	if err := w.SetPos(pos); err != nil {
		return 0, err
	}
	return pos, nil
}

func (e *KVEngine) applyIndex(entry record.MemEntry, gen Generation, pos uint64) {
	switch entry.Kind {
	case record.EntrySet:
		e.index[entry.Key] = indexEntry{gen: gen, pos: pos}
	case record.EntryRemove:
		delete(e.index, entry.Key)
	}
}

func (e *KVEngine) push(gen Generation, entry record.MemEntry) (uint64, error) {
	pos, err := e.writers[gen].WriteEntry(entry)
	if err != nil {
		if errors.Is(err, storage.ErrOverflow) {
			return 0, fmt.Errorf("%w: %w", ErrOverflow, err)
		}
		return 0, err
	}
	e.applyIndex(entry, gen, pos)
	return pos, nil
}

// Set appends a Set record for key/value to the current generation and
// indexes it, overwriting any prior location for key. It triggers a full
// compaction if the write pushes the current generation past the
// configured threshold.
func (e *KVEngine) Set(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := record.MemEntry{Kind: record.EntrySet, Key: record.StringValue(key), Value: record.StringValue(value)}
	pos, err := e.push(e.currentGen, entry)
	if err != nil {
		return fmt.Errorf("engine: set %q: %w", key, err)
	}

	slog.Debug("engine: set", "key", key, "gen", e.currentGen, "pos", pos)

	if pos > e.cfg.CompactThreshold {
		if err := e.compactAll(); err != nil {
			return fmt.Errorf("engine: compaction triggered by set %q: %w", key, err)
		}
	}
	return nil
}

// Get flushes the current generation's writer so just-written records are
// visible, looks the key up in the index, and reads the referenced record
// back from disk. It returns (value, true, nil) on a hit, ("", false, nil)
// on a miss, and a wrapped ErrConsistency if the indexed slot does not
// decode to a Set for the expected key.
func (e *KVEngine) Get(key string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.writers[e.currentGen].Flush(); err != nil {
		return "", false, fmt.Errorf("engine: flushing before get %q: %w", key, err)
	}

	k := record.StringValue(key)
	loc, ok := e.index[k]
	if !ok {
		return "", false, nil
	}

	reader, ok := e.readers[loc.gen]
	if !ok {
		return "", false, fmt.Errorf("engine: get %q: no reader for generation %d: %w", key, loc.gen, ErrConsistency)
	}

	entry, present, err := reader.EntryAt(loc.pos)
	if err != nil {
		return "", false, fmt.Errorf("engine: get %q: reading gen %d pos %d: %w", key, loc.gen, loc.pos, err)
	}
	if !present || entry.Kind != record.EntrySet || entry.Key != k {
		return "", false, fmt.Errorf("engine: get %q: index pointed at gen %d pos %d but found %+v (present=%v): %w",
			key, loc.gen, loc.pos, entry, present, ErrConsistency)
	}

	return entry.Value.String(), true, nil
}

// Remove appends a Remove (tombstone) record for key and drops it from the
// index. It returns ErrKeyNotFound without writing anything if key is
// already absent.
func (e *KVEngine) Remove(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := record.StringValue(key)
	if _, ok := e.index[k]; !ok {
		return fmt.Errorf("engine: remove %q: %w", key, ErrKeyNotFound)
	}

	entry := record.MemEntry{Kind: record.EntryRemove, Key: k}
	pos, err := e.push(e.currentGen, entry)
	if err != nil {
		return fmt.Errorf("engine: remove %q: %w", key, err)
	}

	slog.Debug("engine: remove", "key", key, "gen", e.currentGen, "pos", pos)

	if pos > e.cfg.CompactThreshold {
		if err := e.compactAll(); err != nil {
			return fmt.Errorf("engine: compaction triggered by remove %q: %w", key, err)
		}
	}
	return nil
}

// Close flushes and closes every open generation's writer and reader. A
// failure on one generation's handles is logged but does not prevent the
// others from being closed; the first error encountered is returned.
func (e *KVEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for gen, w := range e.writers {
		if err := w.Close(); err != nil {
			slog.Error("engine: failed to close writer on close", "gen", gen, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for gen, r := range e.readers {
		if err := r.Close(); err != nil {
			slog.Error("engine: failed to close reader on close", "gen", gen, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// KeyCount returns the number of live keys currently indexed. Exposed for
// tests and the benchmark harness; not part of the Engine interface.
func (e *KVEngine) KeyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.index)
}
