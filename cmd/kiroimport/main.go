// kiroimport seeds the gateway database from credentials the Kiro IDE left
// on this machine. Run it while the gateway is stopped; the gateway loads
// the pool once at startup.
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/pysugar/kiro-nexus/internal/db"
	"github.com/pysugar/kiro-nexus/internal/discovery"
)

func main() {
	dbPath := flag.String("db", "kiro-nexus.db", "gateway database path")
	cacheDir := flag.String("dir", "", "token cache directory (default: ~/.aws/sso/cache)")
	dryRun := flag.Bool("dry-run", false, "list importable credentials without writing")
	flag.Parse()

	found, err := discovery.Scan(*cacheDir)
	if err != nil {
		log.Fatalf("scan failed: %v", err)
	}
	if len(found) == 0 {
		fmt.Println("no importable credentials found")
		return
	}

	if *dryRun {
		for _, acc := range found {
			fmt.Printf("%-40s %-8s %-10s expires %s\n", acc.Label, acc.Idp, acc.AuthMethod, acc.ExpiresAt.Format("2006-01-02 15:04"))
		}
		return
	}

	database, err := db.InitDB(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	store := db.NewAccountStore(database)
	existing, err := store.LoadAccounts()
	if err != nil {
		log.Fatalf("load accounts: %v", err)
	}
	// Re-running the importer must not duplicate accounts; the refresh token
	// identifies the underlying grant.
	known := make(map[string]bool, len(existing))
	for _, acc := range existing {
		known[acc.RefreshToken] = true
	}

	imported := 0
	for _, acc := range found {
		if known[acc.RefreshToken] {
			log.Infof("skipping %s: already imported", acc.Label)
			continue
		}
		acc.Status = "active"
		if err := store.ReplaceAccount(acc); err != nil {
			log.Warnf("import failed for %s: %v", acc.Label, err)
			continue
		}
		imported++
		fmt.Printf("imported %s (%s, %s)\n", acc.Label, acc.Idp, acc.AuthMethod)
	}
	if imported == 0 {
		fmt.Println("nothing new to import")
		os.Exit(0)
	}
	fmt.Printf("%d account(s) imported into %s\n", imported, *dbPath)
}
