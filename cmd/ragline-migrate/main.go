// Command ragline-migrate applies the document-store schema migrations.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"ragline/internal/migrate"
)

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL connection string")
	help := flag.Bool("help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "ragline database migration tool\n\n")
		fmt.Fprintf(os.Stderr, "Creates the pgvector extension, the documents/chunks/merge_history\n")
		fmt.Fprintf(os.Stderr, "tables, and the HNSW similarity index.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLE:\n")
		fmt.Fprintf(os.Stderr, "  %s -dsn=\"host=localhost user=postgres password=postgres dbname=ragline port=5432 sslmode=disable\"\n", os.Args[0])
	}

	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if *dsn == "" {
		log.Fatal("Error: -dsn flag is required\n\nRun with -help for usage information.")
	}

	log.Println("Connecting to database...")
	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	log.Println("Running migrations...")
	if err := migrate.RunMigrations(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("All migrations completed successfully")
}
