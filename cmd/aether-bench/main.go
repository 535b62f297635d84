// Package main provides an ad hoc performance and integrity harness for the
// builtin engine, run directly against a data directory rather than over
// the network.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/aether-kv/aether-kv/internal/config"
	"github.com/aether-kv/aether-kv/internal/engine"
)

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.DataDir = "./bench-data"
	if len(os.Args) >= 3 {
		cfg.DataDir = os.Args[2]
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	switch os.Args[1] {
	case "100k-write":
		test100kWrite(cfg)
	case "overlapping":
		testOverlappingKey(cfg)
	case "integrity":
		testIntegrity(cfg)
	default:
		fmt.Printf("Unknown test: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: aether-bench <test-name> [data-dir]")
	fmt.Println("\nAvailable tests:")
	fmt.Println("  100k-write  - Write 100,000 unique keys and measure performance")
	fmt.Println("  overlapping - Test overlapping key writes (key_1 with value_A, then value_B)")
	fmt.Println("  integrity   - Write 100k keys, then randomly read 1,000 to verify integrity")
}

func test100kWrite(cfg *config.Config) {
	fmt.Println("=" + strings.Repeat("=", 60))
	fmt.Println("Test 1: 100k Write Test (Speed & Integrity)")
	fmt.Println("=" + strings.Repeat("=", 60))

	kv, err := engine.Open(cfg.DataDir, cfg)
	if err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}
	defer kv.Close()

	totalKeys := 100000
	startTime := time.Now()
	errCount := 0

	fmt.Printf("Writing %d keys...\n", totalKeys)
	for i := 0; i < totalKeys; i++ {
		key := fmt.Sprintf("key_%d", i)
		value := fmt.Sprintf("value_%d", i)

		if err := kv.Set(key, value); err != nil {
			errCount++
			if errCount <= 10 {
				fmt.Printf("ERROR: Failed to set key_%d: %v\n", i, err)
			}
		}

		if (i+1)%10000 == 0 {
			elapsed := time.Since(startTime)
			rate := float64(i+1) / elapsed.Seconds()
			fmt.Printf("Progress: %d/%d keys written (%.2f keys/sec)\n", i+1, totalKeys, rate)
		}
	}

	elapsed := time.Since(startTime)
	rate := float64(totalKeys) / elapsed.Seconds()

	fmt.Println("\n" + strings.Repeat("-", 60))
	fmt.Printf("Total time: %v\n", elapsed)
	fmt.Printf("Write rate: %.2f keys/second\n", rate)
	fmt.Printf("Errors: %d\n", errCount)

	if errCount > 0 {
		fmt.Printf("\nTEST FAILED: %d errors occurred\n", errCount)
		os.Exit(1)
	}

	keyCount := kv.KeyCount()
	fmt.Printf("Keys in memory (index): %d\n", keyCount)
	if keyCount != totalKeys {
		fmt.Printf("WARNING: index has %d keys, expected %d (compaction may have run mid-test)\n", keyCount, totalKeys)
	}

	fmt.Println("\nTEST PASSED: all keys written successfully")
}

func testOverlappingKey(cfg *config.Config) {
	fmt.Println("=" + strings.Repeat("=", 60))
	fmt.Println("Test 2: Overlapping Key Test")
	fmt.Println("=" + strings.Repeat("=", 60))

	kv, err := engine.Open(cfg.DataDir, cfg)
	if err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}
	defer kv.Close()

	key := "key_1"
	valueA := "value_A"
	valueB := "value_B"

	fmt.Printf("Step 1: Setting %s to '%s'\n", key, valueA)
	if err := kv.Set(key, valueA); err != nil {
		log.Fatalf("Failed to set key_1 to value_A: %v", err)
	}

	fmt.Printf("Step 2: Setting %s to '%s' (overwriting)\n", key, valueB)
	if err := kv.Set(key, valueB); err != nil {
		log.Fatalf("Failed to set key_1 to value_B: %v", err)
	}

	fmt.Printf("Step 3: Getting %s\n", key)
	value, ok, err := kv.Get(key)
	if err != nil {
		log.Fatalf("Failed to get key_1: %v", err)
	}
	if !ok {
		log.Fatalf("key_1 unexpectedly absent")
	}

	fmt.Printf("  Retrieved value: '%s'\n", value)

	if value != valueB {
		fmt.Printf("\nTEST FAILED: Expected '%s', got '%s'\n", valueB, value)
		os.Exit(1)
	}

	if got := kv.KeyCount(); got != 1 {
		fmt.Printf("WARNING: index has %d keys, expected 1\n", got)
	} else {
		fmt.Println("  index contains 1 key (correct - only latest location)")
	}

	fmt.Println("\nTEST PASSED: latest value correctly returned")
}

func testIntegrity(cfg *config.Config) {
	fmt.Println("=" + strings.Repeat("=", 60))
	fmt.Println("Test 3: Integrity Test (Read-Back)")
	fmt.Println("=" + strings.Repeat("=", 60))

	kv, err := engine.Open(cfg.DataDir, cfg)
	if err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}
	defer kv.Close()

	totalKeys := 100000
	fmt.Printf("Step 1: Writing %d keys...\n", totalKeys)
	startTime := time.Now()

	for i := 0; i < totalKeys; i++ {
		key := fmt.Sprintf("key_%d", i)
		value := fmt.Sprintf("value_%d", i)
		if err := kv.Set(key, value); err != nil {
			log.Fatalf("Failed to set key_%d: %v", i, err)
		}
	}

	writeTime := time.Since(startTime)
	fmt.Printf("  Write completed in %v\n", writeTime)

	fmt.Printf("\nStep 2: Randomly reading 1,000 keys to verify integrity...\n")
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	readStartTime := time.Now()
	errCount := 0
	crcErrors := 0

	for i := 0; i < 1000; i++ {
		randomIndex := rng.Intn(totalKeys)
		key := fmt.Sprintf("key_%d", randomIndex)
		expectedValue := fmt.Sprintf("value_%d", randomIndex)

		value, ok, err := kv.Get(key)
		if err != nil {
			errCount++
			if errCount <= 10 {
				fmt.Printf("  ERROR: Failed to get %s: %v\n", key, err)
				if strings.Contains(err.Error(), "crc mismatch") {
					crcErrors++
					fmt.Printf("    CRC MISMATCH - offset calculation may be wrong\n")
				}
			}
			continue
		}
		if !ok {
			errCount++
			if errCount <= 10 {
				fmt.Printf("  ERROR: %s unexpectedly absent\n", key)
			}
			continue
		}

		if value != expectedValue {
			errCount++
			if errCount <= 10 {
				fmt.Printf("  ERROR: Value mismatch for %s\n", key)
				fmt.Printf("    Expected: '%s'\n", expectedValue)
				fmt.Printf("    Got:      '%s'\n", value)
			}
		}
	}

	readTime := time.Since(readStartTime)
	fmt.Printf("\n  Read completed in %v\n", readTime)
	fmt.Printf("  Read rate: %.2f keys/second\n", 1000.0/readTime.Seconds())

	fmt.Println("\n" + strings.Repeat("-", 60))
	fmt.Printf("Errors: %d\n", errCount)
	if crcErrors > 0 {
		fmt.Printf("CRC Mismatches: %d\n", crcErrors)
	}

	if errCount > 0 {
		fmt.Printf("\nTEST FAILED: %d errors occurred\n", errCount)
		os.Exit(1)
	}

	fmt.Println("\nTEST PASSED: all random reads returned correct values")
}
