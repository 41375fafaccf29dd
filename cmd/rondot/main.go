package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rondot/internal"
	"rondot/internal/catalog"
	"rondot/internal/config"
	"rondot/internal/export"
	"rondot/internal/extract"
	"rondot/internal/logging"
	"rondot/internal/mapping"
	"rondot/internal/resolve"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log := logging.New(cfg.LogPath, os.Getenv("APP_ENV") == "production")
	defer func() { _ = log.Sync() }()

	store, err := mapping.Open(cfg.DBPath, log)
	must(err)
	defer store.Close()

	snapshots := catalog.NewStore(
		catalog.NewHTTPSource(cfg),
		time.Duration(cfg.SnapshotMaxAgeHrs)*time.Hour,
		log,
	)

	cmd := os.Args[1]
	switch cmd {
	case "catalog:refresh":
		snap, err := snapshots.Refresh(context.Background())
		must(err)
		fmt.Printf("snapshot refreshed: clients=%d products=%d builtAt=%s\n",
			len(snap.Clients), len(snap.Products), snap.BuiltAt.Format(time.RFC3339))
	case "resolve":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		subject := fs.String("subject", "", "email subject")
		bodyFile := fs.String("body-file", "", "path to the cleaned plain-text body")
		sender := fs.String("sender", "", "sender address")
		report := fs.String("report", "", "optional xlsx report path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*bodyFile) == "" || strings.TrimSpace(*sender) == "" {
			must(fmt.Errorf("--body-file and --sender are required"))
		}

		body, err := os.ReadFile(*bodyFile)
		must(err)

		_, err = snapshots.Refresh(context.Background())
		must(err)

		resolver := resolve.NewResolver(
			extract.New(cfg.InternalDomains, cfg.QuantityWindowSize),
			resolve.NewClientResolver(cfg.ClientScoreFloor, cfg.ClientTopN),
			resolve.NewProductResolver(store, cfg.ProductTopN, cfg.AutoPromoteScore, log),
			snapshots,
			cfg.ResolveWorkers,
			log,
		)

		res, err := resolver.Resolve(context.Background(), resolve.Email{
			Subject: *subject,
			Body:    string(body),
			Sender:  *sender,
			Gate:    internal.Gate{ShouldResolve: true, Confidence: 1, Reason: "cli"},
		})
		must(err)

		blob, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(blob))

		if strings.TrimSpace(*report) != "" {
			must(export.WriteResolutionReport(res, *report))
			fmt.Printf("report written to %s\n", *report)
		}
	case "mappings:pending":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 50, "max rows")
		_ = fs.Parse(os.Args[2:])
		recs, err := store.ListPending(*limit)
		must(err)
		for _, rec := range recs {
			fmt.Printf("%s supplier=%s uses=%d desc=%q\n",
				rec.ExternalCode, rec.SupplierID, rec.UseCount, rec.ExternalDescription)
		}
		fmt.Printf("%d pending mappings\n", len(recs))
	case "mappings:validate":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		code := fs.String("code", "", "external code")
		supplier := fs.String("supplier", "", "supplier id")
		internalCode := fs.String("internal", "", "internal catalog code")
		_ = fs.Parse(os.Args[2:])
		if *code == "" || *internalCode == "" {
			must(fmt.Errorf("--code and --internal are required"))
		}
		must(store.Validate(*code, *supplier, *internalCode))
		fmt.Printf("validated %s -> %s (supplier=%s)\n", *code, *internalCode, *supplier)
	case "mappings:reject":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		code := fs.String("code", "", "external code")
		supplier := fs.String("supplier", "", "supplier id")
		_ = fs.Parse(os.Args[2:])
		if *code == "" {
			must(fmt.Errorf("--code is required"))
		}
		must(store.Reject(*code, *supplier))
		fmt.Printf("rejected %s (supplier=%s)\n", *code, *supplier)
	case "mappings:stats":
		stats, err := store.Statistics()
		must(err)
		blob, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(blob))
	case "export:pending":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output xlsx path (default <OUTPUT_DIR>/pending.xlsx)")
		limit := fs.Int("limit", 500, "max rows")
		_ = fs.Parse(os.Args[2:])
		path := strings.TrimSpace(*out)
		if path == "" {
			path = filepath.Join(cfg.OutputDir, "pending.xlsx")
		}
		recs, err := store.ListPending(*limit)
		must(err)
		must(export.WritePendingReview(recs, path))
		fmt.Printf("exported %d pending mappings to %s\n", len(recs), path)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: rondot <command>")
	fmt.Println("commands:")
	fmt.Println("  catalog:refresh")
	fmt.Println("  resolve --subject=... --body-file=... --sender=... [--report=out.xlsx]")
	fmt.Println("  mappings:pending [--limit=50]")
	fmt.Println("  mappings:validate --code=... --supplier=... --internal=...")
	fmt.Println("  mappings:reject --code=... --supplier=...")
	fmt.Println("  mappings:stats")
	fmt.Println("  export:pending [--out=./out/pending.xlsx] [--limit=500]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
