package engine

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aether-kv/aether-kv/internal/record"
	"github.com/aether-kv/aether-kv/internal/storage"
)

// compactAll rewrites every existing generation in place, then, if the
// rewritten current generation is still over threshold (sustained high
// write volume), advances to a brand new empty generation so the next
// writes land somewhere fresh rather than immediately re-triggering
// compaction.
func (e *KVEngine) compactAll() error {
	for gen := Generation(0); gen <= e.currentGen; gen++ {
		n, err := e.compact(gen)
		if err != nil {
			return fmt.Errorf("compacting generation %d: %w", gen, err)
		}
		e.logLen[gen] = n
		slog.Info("engine: compacted generation", "gen", gen, "live_entries", n)
	}

	if e.logLen[e.currentGen] > e.cfg.CompactThreshold {
		next := e.currentGen + 1
		manifest, err := readManifest(e.dir)
		if err != nil {
			return err
		}
		if err := e.openGeneration(next, manifest); err != nil {
			return fmt.Errorf("opening new generation %d: %w", next, err)
		}
		e.currentGen = next
		e.logLen[next] = 0
		slog.Info("engine: advanced to new generation", "gen", next)
	}
	return nil
}

// compact rewrites gen's log/data pair, keeping only the entries the
// in-memory index still points at, into a temp pair, then swaps the temp
// pair in under gen's real name. The data file is renamed into place
// before the log file. A crash between the two renames leaves the old log
// paired with the compacted data file, whose offsets no longer match the
// old log's references. writeManifestEntry records the post-swap lengths
// after both renames; a later Open refuses a generation whose files are
// smaller than the lengths recorded at its previous swap, which catches
// such a crash only when the new files are the smaller ones.
func (e *KVEngine) compact(gen Generation) (uint64, error) {
	logPath, dataPath := e.paths(gen, false)
	tempLogPath, tempDataPath := e.paths(gen, true)

	tempLog, err := os.OpenFile(tempLogPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating temp log file: %w", err)
	}
	tempData, err := os.OpenFile(tempDataPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		tempLog.Close()
		return 0, fmt.Errorf("creating temp data file: %w", err)
	}
	tempWriter, err := storage.OpenWriter(tempLog, tempData, e.cfg.EntrySize)
	if err != nil {
		tempLog.Close()
		tempData.Close()
		return 0, err
	}

	reader := e.readers[gen]
	if err := e.writers[gen].Flush(); err != nil {
		tempWriter.Close()
		return 0, err
	}
	if err := reader.Seek(0); err != nil {
		tempWriter.Close()
		return 0, err
	}

	var pos uint64
	for {
		fe, present, err := reader.ReadFileEntry()
		if err != nil {
			tempWriter.Close()
			return 0, fmt.Errorf("scanning generation %d at position %d: %w", gen, pos, err)
		}
		if !present {
			break
		}

		if fe.Kind == record.EntrySet {
			entry, err := reader.ResolveEntry(fe)
			if err != nil {
				tempWriter.Close()
				return 0, err
			}
			loc, isLive := e.index[entry.Key]
			if isLive && loc.gen == gen && loc.pos == pos {
				newPos, err := tempWriter.WriteEntry(entry)
				if err != nil {
					tempWriter.Close()
					return 0, fmt.Errorf("rewriting live entry: %w", err)
				}
				e.index[entry.Key] = indexEntry{gen: gen, pos: newPos}
			}
		}
		pos++
	}

	if err := tempWriter.Flush(); err != nil {
		tempWriter.Close()
		return 0, err
	}
	logLen, dataLen, err := tempWriter.Sizes()
	tempWriter.Close()
	if err != nil {
		return 0, err
	}

	if err := e.writers[gen].Close(); err != nil {
		slog.Error("engine: failed to close writer before compaction swap", "gen", gen, "error", err)
	}
	if err := e.readers[gen].Close(); err != nil {
		slog.Error("engine: failed to close reader before compaction swap", "gen", gen, "error", err)
	}

	if err := os.Rename(tempDataPath, dataPath); err != nil {
		return 0, fmt.Errorf("swapping in compacted data file: %w", err)
	}
	if err := os.Rename(tempLogPath, logPath); err != nil {
		return 0, fmt.Errorf("swapping in compacted log file: %w", err)
	}

	if err := writeManifestEntry(e.dir, gen, logLen, dataLen); err != nil {
		return 0, err
	}

	manifest, err := readManifest(e.dir)
	if err != nil {
		return 0, err
	}
	if err := e.openGeneration(gen, manifest); err != nil {
		return 0, fmt.Errorf("reopening compacted generation %d: %w", gen, err)
	}
	return e.loadGeneration(gen)
}
