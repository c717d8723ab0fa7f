// Command simpledb is a small demo driver: it opens a database from a
// config and catalog file, runs a sequential scan over one table, and
// prints its rows followed by a row and column count. A full SQL front end is outside this
// engine's scope (spec.md's explicit Non-goal) — this driver wires the
// storage and execution layers together the way a caller embedding the
// engine would.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	simpledb "github.com/gosimpledb/simpledb"
	"github.com/gosimpledb/simpledb/internal/config"
	"github.com/gosimpledb/simpledb/internal/operators"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	catalogPath := flag.String("catalog", "", "path to a catalog text file")
	table := flag.String("table", "", "table to scan")
	flag.Parse()

	if *catalogPath == "" || *table == "" {
		fmt.Fprintln(os.Stderr, "usage: simpledb -catalog catalog.txt -table people [-config config.yaml]")
		os.Exit(2)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	db := simpledb.Open(cfg)
	if err := db.LoadCatalog(*catalogPath); err != nil {
		log.Fatalf("load catalog: %v", err)
	}

	t, err := db.Catalog.ByName(*table)
	if err != nil {
		log.Fatalf("table %q: %v", *table, err)
	}

	tid := db.Begin()
	scan := operators.NewSeqScan(tid, t.File, t.Name)
	if err := scan.Open(); err != nil {
		log.Fatalf("open scan: %v", err)
	}
	defer scan.Close()

	desc := scan.TupleDesc()
	count := 0
	for {
		ok, err := scan.HasNext()
		if err != nil {
			log.Fatalf("scan: %v", err)
		}
		if !ok {
			break
		}
		row, err := scan.Next()
		if err != nil {
			log.Fatalf("scan: %v", err)
		}
		fmt.Println(row.String())
		count++
	}
	fmt.Printf("%d rows, %d columns\n", count, desc.NumFields())

	if err := db.Complete(tid, true); err != nil {
		log.Fatalf("complete: %v", err)
	}
}
