package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// manifestName is the swap manifest's file name within the engine's
// directory. It records, for each generation that has been through a
// completed compaction, the log and data file byte lengths observed
// immediately after both renames succeeded. Those lengths only ever grow
// from further appends, so Open can use "current size is at least the
// recorded size" as a cheap, proactive check that a generation's on-disk
// pair was not left half-swapped by a crash between the two renames.
const manifestName = ".compaction-manifest"

type manifestRecord struct {
	LogLen  int64 `json:"log_len"`
	DataLen int64 `json:"data_len"`
}

type manifest map[string]manifestRecord

func manifestPath(dir string) string {
	return filepath.Join(dir, manifestName)
}

func readManifest(dir string) (manifest, error) {
	data, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return manifest{}, nil
		}
		return nil, fmt.Errorf("engine: reading compaction manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("engine: parsing compaction manifest: %w", err)
	}
	return m, nil
}

// writeManifestEntry records gen's post-swap file lengths durably. It reads
// the existing manifest, updates the one entry, and atomically rewrites the
// whole file so a crash mid-write never leaves a corrupt manifest behind.
func writeManifestEntry(dir string, gen Generation, logLen, dataLen int64) error {
	m, err := readManifest(dir)
	if err != nil {
		return err
	}
	if m == nil {
		m = manifest{}
	}
	m[generationName(gen)] = manifestRecord{LogLen: logLen, DataLen: dataLen}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("engine: encoding compaction manifest: %w", err)
	}
	if err := atomic.WriteFile(manifestPath(dir), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("engine: writing compaction manifest: %w", err)
	}
	return nil
}

// checkManifestConsistency refuses to open a generation whose on-disk log
// or data file is smaller than the manifest recorded just after its last
// completed compaction swap - the signature of a rename that succeeded on
// one side but not the other.
func checkManifestConsistency(m manifest, gen Generation, logLen, dataLen int64) error {
	rec, ok := m[generationName(gen)]
	if !ok {
		return nil
	}
	if logLen < rec.LogLen || dataLen < rec.DataLen {
		return fmt.Errorf("engine: generation %d log/data pair smaller than recorded at last compaction (log %d<%d or data %d<%d): %w",
			gen, logLen, rec.LogLen, dataLen, rec.DataLen, ErrConsistency)
	}
	return nil
}
