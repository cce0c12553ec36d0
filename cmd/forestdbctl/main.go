// forestdbctl is an interactive inspection shell for a forestdb file.
//
// Usage:
//
//	forestdbctl <file>
//
// Commands:
//
//	get <key>             Fetch a document by key
//	set <key> <value>      Write a document (value becomes Body)
//	del <key>              Delete a document
//	seq <n>                Fetch a document by sequence number
//	scan [from] [to]       List keys in range
//	commit                 Flush WAL and write a superblock
//	compact <newfile>      Compact into newfile and switch to it
//	stats                  Print counters
//	.quit / .exit          Leave the shell
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	forestdb "github.com/simonzhangsm/forestdb"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: forestdbctl <file>")
		os.Exit(1)
	}
	path := os.Args[1]

	db, err := forestdb.Open(path, forestdb.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %q: %v\n", path, err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("forestdbctl — %s\n", path)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("forestdb> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch strings.ToLower(fields[0]) {
		case ".quit", ".exit":
			return
		case "get":
			cmdGet(db, fields)
		case "set":
			cmdSet(db, fields, line)
		case "del":
			cmdDel(db, fields)
		case "seq":
			cmdSeq(db, fields)
		case "scan":
			cmdScan(db, fields)
		case "commit":
			if err := db.Commit(); err != nil {
				fmt.Printf("  error: %v\n", err)
			} else {
				fmt.Println("  ok")
			}
		case "compact":
			cmdCompact(db, fields)
		case "stats":
			cmdStats(db)
		case ".help":
			printHelp()
		default:
			fmt.Printf("  unknown command: %s (try .help)\n", fields[0])
		}
	}
}

func printHelp() {
	fmt.Println(`  get <key>
  set <key> <value>
  del <key>
  seq <n>
  scan [from] [to]
  commit
  compact <newfile>
  stats
  .quit`)
}

func cmdGet(db *forestdb.DB, fields []string) {
	if len(fields) != 2 {
		fmt.Println("  usage: get <key>")
		return
	}
	doc := forestdb.NewDoc([]byte(fields[1]), nil, nil)
	if err := db.Get(doc); err != nil {
		fmt.Printf("  error: %v\n", err)
		return
	}
	fmt.Printf("  seq=%d body=%q\n", doc.Seqnum, doc.Body)
}

func cmdSet(db *forestdb.DB, fields []string, line string) {
	if len(fields) < 3 {
		fmt.Println("  usage: set <key> <value>")
		return
	}
	value := strings.Join(fields[2:], " ")
	doc := forestdb.NewDoc([]byte(fields[1]), nil, []byte(value))
	if err := db.Set(doc); err != nil {
		fmt.Printf("  error: %v\n", err)
		return
	}
	fmt.Printf("  ok, seq=%d\n", doc.Seqnum)
}

func cmdDel(db *forestdb.DB, fields []string) {
	if len(fields) != 2 {
		fmt.Println("  usage: del <key>")
		return
	}
	doc := forestdb.NewDoc([]byte(fields[1]), nil, nil)
	if err := db.Set(doc); err != nil {
		fmt.Printf("  error: %v\n", err)
		return
	}
	fmt.Println("  ok")
}

func cmdSeq(db *forestdb.DB, fields []string) {
	if len(fields) != 2 {
		fmt.Println("  usage: seq <n>")
		return
	}
	var n uint64
	if _, err := fmt.Sscanf(fields[1], "%d", &n); err != nil {
		fmt.Println("  usage: seq <n>")
		return
	}
	doc := &forestdb.Doc{Seqnum: n}
	if err := db.GetBySeq(doc); err != nil {
		fmt.Printf("  error: %v\n", err)
		return
	}
	fmt.Printf("  key=%q body=%q\n", doc.Key, doc.Body)
}

func cmdScan(db *forestdb.DB, fields []string) {
	var from, to []byte
	if len(fields) > 1 {
		from = []byte(fields[1])
	}
	if len(fields) > 2 {
		to = []byte(fields[2])
	}
	it, err := db.IteratorInit(from, to, 0)
	if err != nil {
		fmt.Printf("  error: %v\n", err)
		return
	}
	defer it.Close()
	n := 0
	for {
		doc, err := it.Next()
		if err != nil {
			break
		}
		fmt.Printf("  %q -> %q\n", doc.Key, doc.Body)
		n++
	}
	fmt.Printf("  --- %d document(s)\n", n)
}

func cmdCompact(db *forestdb.DB, fields []string) {
	if len(fields) != 2 {
		fmt.Println("  usage: compact <newfile>")
		return
	}
	if err := db.Compact(fields[1]); err != nil {
		fmt.Printf("  error: %v\n", err)
		return
	}
	fmt.Println("  ok")
}

func cmdStats(db *forestdb.DB) {
	s, err := db.Stats()
	if err != nil {
		fmt.Printf("  error: %v\n", err)
		return
	}
	fmt.Printf("  path:           %s\n", s.Path)
	fmt.Printf("  doc_count:      %d\n", s.DocCount)
	fmt.Printf("  live_doc_count: %d\n", s.LiveDocCount)
	fmt.Printf("  next_seqnum:    %d\n", s.NextSeqnum)
	fmt.Printf("  wal_length:     %d\n", s.WALLength)
	if s.CompactingTo != "" {
		fmt.Printf("  compacting_to:  %s\n", s.CompactingTo)
	}
}
