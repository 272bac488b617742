package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"library-ledger/config"
	"library-ledger/library"
)

// Reads a JSON array of books and stocks each one. Entries whose ISBN already
// exists are re-stocked rather than duplicated.
//
//	[{"title": "1984", "author": "George Orwell", "isbn": "9780451524935", "copies": 3}]
func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <books.json>\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	raw, err := os.ReadFile(filepath.Clean(os.Args[1]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	var entries []library.BookInput
	if err := json.Unmarshal(raw, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	manager, err := library.OpenLibraryManager(cfg.DatabasePath, []library.Option{
		library.WithLogger(logger),
		library.WithBusyTimeout(cfg.BusyTimeout),
		library.WithRetry(cfg.StoreMaxAttempts, cfg.StoreRetryBaseDelay),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	ctx := context.Background()
	fmt.Printf("Importing %d entries into %s...\n", len(entries), cfg.DatabasePath)

	added, restocked, errorCount := 0, 0, 0
	for _, in := range entries {
		if in.Copies == 0 {
			in.Copies = 1
		}
		fmt.Printf("Importing: %s by %s... ", in.Title, in.Author)

		bookID, created, err := manager.AddBook(ctx, in)
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		if created {
			fmt.Printf("ADDED (ID: %d)\n", bookID)
			added++
		} else {
			fmt.Printf("RESTOCKED (ID: %d, +%d)\n", bookID, in.Copies)
			restocked++
		}
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Added: %d books\n", added)
	fmt.Printf("Restocked: %d books\n", restocked)
	fmt.Printf("Errors: %d\n", errorCount)

	if added+restocked > 0 {
		fmt.Println("\nCatalog:")
		books, err := manager.AdminBooks(ctx)
		if err != nil {
			fmt.Printf("Error retrieving books: %v\n", err)
			return
		}
		fmt.Printf("%-3s %-50s %-30s %s\n", "ID", "Title", "Author", "Status")
		fmt.Println(strings.Repeat("-", 110))
		for _, book := range books {
			fmt.Printf("%-3d %-50s %-30s %s\n", book.ID, truncateString(book.Title, 50),
				truncateString(book.Author, 30), book.Status)
		}
	}
}

// truncateString shortens s to maxLen runes, marking the cut with an ellipsis.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
