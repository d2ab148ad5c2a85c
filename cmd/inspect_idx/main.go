// Inspect a storage file: header, allocator, pool and index statistics, then
// a level by level dump of every index tree.
// Usage: go run ./cmd/inspect_idx [-index name] [-limit n] [-verify] <storage file>
// Example: go run ./cmd/inspect_idx -index students_name databases/demo.heap
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"HeapStore/logging"
	storageengine "HeapStore/storage_engine"
)

func main() {
	index := flag.String("index", "", "dump only this index")
	limit := flag.Int("limit", 16, "entries printed per page, 0 for all")
	verify := flag.Bool("verify", false, "check the structure of every index")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <storage file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	if err := inspect(flag.Arg(0), *index, *limit, *verify); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func inspect(path, only string, limit int, verify bool) error {
	if err := logging.Init(logging.Config{Level: logging.LevelWarn}); err != nil {
		return err
	}
	defer logging.Close()

	cfg := storageengine.DefaultConfig()
	cfg.ReadOnly = true
	cfg.LockMode = storageengine.LockShared
	store, err := storageengine.Open(path, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Storage file: %s\n", path)
	fmt.Printf("  page size %s, quantum %d bytes, commit #%d\n",
		humanize.IBytes(uint64(store.Config().PageSize)), store.Config().Quantum, st.Seq)
	fmt.Print(st)

	if verify {
		if err := store.Verify(); err != nil {
			return err
		}
		fmt.Println("all indexes verified")
	}

	names := store.Indexes()
	if only != "" {
		names = []string{only}
	}
	for _, name := range names {
		ix, err := store.Index(name)
		if err != nil {
			return err
		}
		fmt.Println()
		if err := ix.Inspect(os.Stdout, limit); err != nil {
			return err
		}
	}
	return nil
}
