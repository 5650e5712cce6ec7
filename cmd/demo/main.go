// Command demo exercises the lsm package against a small dataset,
// showing writes, point lookups, overwrite semantics, range scans, and
// the effect of a forced compaction.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"lsmkv/lsm"
)

func main() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("LSM Tree Demo")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	dir, err := os.MkdirTemp("", "lsmkv-demo-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cfg := lsm.DefaultConfig(dir)
	cfg.MemtableLimit = 3 // small, so the demo actually triggers a flush
	tree, err := lsm.NewTree(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer tree.Close()

	fmt.Println("✓ Opened tree at", dir)

	fmt.Println("\n[Writing data]")
	testData := map[string]string{
		"user:1001":   `{"name": "Alice", "age": 30, "city": "NYC"}`,
		"user:1002":   `{"name": "Bob", "age": 25, "city": "SF"}`,
		"user:1003":   `{"name": "Charlie", "age": 35, "city": "LA"}`,
		"product:101": `{"name": "Laptop", "price": 999.99}`,
		"product:102": `{"name": "Mouse", "price": 29.99}`,
	}
	for key, value := range testData {
		if err := tree.Put([]byte(key), []byte(value)); err != nil {
			log.Printf("error writing %s: %v", key, err)
			continue
		}
		fmt.Printf("  PUT %s\n", key)
	}

	fmt.Println("\n[Reading data]")
	for key := range testData {
		value, found, err := tree.Get([]byte(key))
		switch {
		case err != nil:
			log.Printf("error reading %s: %v", key, err)
		case !found:
			log.Printf("key not found: %s", key)
		default:
			fmt.Printf("  GET %s -> %s\n", key, truncate(string(value), 40))
		}
	}

	fmt.Println("\n[Overwrite semantics]")
	tree.Put([]byte("user:1001"), []byte(`{"name": "Alice Updated", "age": 31, "city": "NYC"}`))
	fmt.Println("  PUT user:1001 (updated)")
	if value, found, _ := tree.Get([]byte("user:1001")); found {
		fmt.Printf("  GET user:1001 -> %s\n", truncate(string(value), 50))
	}

	fmt.Println("\n[Absence]")
	if _, found, _ := tree.Get([]byte("no-such-key")); !found {
		fmt.Println("  GET no-such-key -> absent (as expected)")
	}

	fmt.Println("\n[Range scans]")
	fmt.Println("1. All users (user:0000 to user:9999):")
	users, err := tree.Range([]byte("user:0000"), []byte("user:9999"))
	if err != nil {
		log.Printf("range failed: %v", err)
	} else {
		for _, p := range users {
			fmt.Printf("   %s -> %s\n", p.Key, truncate(string(p.Value), 40))
		}
	}

	fmt.Println("\n2. All products (product:000 to product:999):")
	products, err := tree.Range([]byte("product:000"), []byte("product:999"))
	if err != nil {
		log.Printf("range failed: %v", err)
	} else {
		for _, p := range products {
			fmt.Printf("   %s -> %s\n", p.Key, truncate(string(p.Value), 40))
		}
	}

	fmt.Println("\n[Forcing a compaction]")
	if err := tree.Compact(0); err != nil {
		log.Printf("compact failed: %v", err)
	} else {
		fmt.Println("  Compacted level 0 into level 1.")
	}

	fmt.Println("\n[Reading after compaction]")
	if value, found, err := tree.Get([]byte("user:1001")); err != nil {
		log.Printf("error reading user:1001: %v", err)
	} else if found {
		fmt.Printf("  GET user:1001 -> %s\n", truncate(string(value), 50))
	}

	fmt.Println("\nDone.")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
