package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"erasure-cloud/config"
	"erasure-cloud/internal/database"
	"erasure-cloud/internal/license"
	"erasure-cloud/internal/logging"
)

// adminMeta marks usage log entries written by this tool.
var adminMeta = license.Meta{IP: "local", UserAgent: "license-admin"}

type tool struct {
	reader *bufio.Reader
	engine *license.Engine
	db     *database.DB
	logger zerolog.Logger
}

func main() {
	fmt.Println("========================================")
	fmt.Println(" License Administration Tool")
	fmt.Println("========================================")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	t := &tool{
		reader: bufio.NewReader(os.Stdin),
		logger: logging.New(config.LoggingConfig{Level: "warn"}),
	}
	defer t.close()

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Create license")
		fmt.Println("  2. Create batch of licenses")
		fmt.Println("  3. Show license")
		fmt.Println("  4. Expire overdue licenses")
		fmt.Println("  5. Generate token signing key pair")
		fmt.Println("  6. Exit")
		fmt.Print("\nSelect option: ")

		switch t.prompt("") {
		case "1":
			t.createLicense(cfg)
		case "2":
			t.createBatch(cfg)
		case "3":
			t.showLicense(cfg)
		case "4":
			t.expireOverdue(cfg)
		case "5":
			generateKeyPair(t)
		case "6":
			fmt.Println("Goodbye!")
			return
		default:
			fmt.Println("Invalid option")
		}
	}
}

func (t *tool) prompt(label string) string {
	if label != "" {
		fmt.Print(label)
	}
	input, _ := t.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (t *tool) promptInt(label string, def int) int {
	raw := t.prompt(fmt.Sprintf("%s [%d]: ", label, def))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Println("Not a number, using default")
		return def
	}
	return n
}

// connect opens the main database on first use so key generation works offline.
func (t *tool) connect(cfg *config.Config) (*license.Engine, error) {
	if t.engine != nil {
		return t.engine, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := database.Open(ctx, cfg.DatabaseConfig.DSN(), database.PoolOptions{MaxConns: 2, MinConns: 0})
	if err != nil {
		return nil, err
	}
	t.db = db
	t.engine = license.NewEngine(database.NewRepository(db), license.Config{
		DefaultRenewalDays: cfg.LicenseConfig.DefaultRenewalDays,
	}, t.logger)
	return t.engine, nil
}

func (t *tool) close() {
	if t.db != nil {
		t.db.Close()
	}
}

func (t *tool) promptEdition() (string, bool) {
	fmt.Println("Editions:")
	fmt.Println("  1. Basic")
	fmt.Println("  2. Pro")
	fmt.Println("  3. Enterprise")
	switch t.prompt("Select edition (1-3): ") {
	case "1":
		return string(license.EditionBasic), true
	case "2":
		return string(license.EditionPro), true
	case "3":
		return string(license.EditionEnterprise), true
	}
	fmt.Println("Invalid edition")
	return "", false
}

func (t *tool) createLicense(cfg *config.Config) {
	fmt.Println("\n--- Create License ---")
	engine, err := t.connect(cfg)
	if err != nil {
		fmt.Printf("Database unavailable: %v\n", err)
		return
	}
	edition, ok := t.promptEdition()
	if !ok {
		return
	}
	req := license.CreateRequest{
		Edition:    edition,
		ExpiryDays: t.promptInt("Validity in days", cfg.LicenseConfig.DefaultRenewalDays),
		MaxDevices: t.promptInt("Device slots", 1),
		OwnerEmail: t.prompt("Owner email (optional): "),
		Notes:      t.prompt("Notes (optional): "),
	}

	v, err := engine.Create(context.Background(), req, adminMeta)
	if err != nil {
		fmt.Printf("Failed to create license: %v\n", err)
		return
	}
	printView(v)
}

func (t *tool) createBatch(cfg *config.Config) {
	fmt.Println("\n--- Create Batch of Licenses ---")
	engine, err := t.connect(cfg)
	if err != nil {
		fmt.Printf("Database unavailable: %v\n", err)
		return
	}
	edition, ok := t.promptEdition()
	if !ok {
		return
	}
	count := t.promptInt("How many licenses", 10)
	if count < 1 || count > 100 {
		fmt.Println("Invalid count (1-100)")
		return
	}
	days := t.promptInt("Validity in days", cfg.LicenseConfig.DefaultRenewalDays)

	fmt.Printf("\nCreating %d %s licenses...\n", count, edition)
	fmt.Println("========================================")

	var content strings.Builder
	content.WriteString(fmt.Sprintf("# %s licenses, %d days\n", edition, days))
	content.WriteString(fmt.Sprintf("# Created: %s\n\n", time.Now().Format("2006-01-02 15:04:05")))
	for i := 0; i < count; i++ {
		v, err := engine.Create(context.Background(), license.CreateRequest{Edition: edition, ExpiryDays: days}, adminMeta)
		if err != nil {
			fmt.Printf("Stopped after %d: %v\n", i, err)
			break
		}
		fmt.Printf("  %d. %s\n", i+1, v.Key)
		content.WriteString(v.Key + "\n")
	}
	fmt.Println("========================================")

	filename := fmt.Sprintf("licenses_%s_%s.txt", strings.ToLower(edition), time.Now().Format("20060102_150405"))
	if err := os.WriteFile(filename, []byte(content.String()), 0600); err != nil {
		fmt.Printf("Failed to save keys: %v\n", err)
		return
	}
	fmt.Printf("\nSaved to: %s\n", filename)
}

func (t *tool) showLicense(cfg *config.Config) {
	fmt.Println("\n--- Show License ---")
	key := t.prompt("Enter license key: ")
	if !license.ValidKey(key) {
		fmt.Println("  Status:  INVALID FORMAT (expected XXXX-XXXX-XXXX-XXXX)")
		return
	}
	engine, err := t.connect(cfg)
	if err != nil {
		fmt.Printf("Database unavailable: %v\n", err)
		return
	}
	ctx := context.Background()
	v, err := engine.Get(ctx, key)
	if err != nil {
		fmt.Printf("  %v\n", err)
		return
	}
	printView(v)

	devices, err := engine.Devices(ctx, key)
	if err != nil {
		fmt.Printf("Failed to load devices: %v\n", err)
		return
	}
	for _, d := range devices {
		state := "inactive"
		if d.IsActive {
			state = "active"
		}
		fmt.Printf("  Device %s: %s (%s), last seen %s\n", d.ID, d.MachineName, state, d.LastSeenAt.Format("2006-01-02 15:04"))
	}
}

func (t *tool) expireOverdue(cfg *config.Config) {
	engine, err := t.connect(cfg)
	if err != nil {
		fmt.Printf("Database unavailable: %v\n", err)
		return
	}
	n, err := engine.ExpireOverdue(context.Background())
	if err != nil {
		fmt.Printf("Sweep finished with errors: %v\n", err)
	}
	fmt.Printf("Expired %d licenses\n", n)
}

func printView(v *license.View) {
	fmt.Println("\n========================================")
	fmt.Printf("  License Key:  %s\n", v.Key)
	fmt.Printf("  Edition:      %s\n", v.Edition)
	fmt.Printf("  Status:       %s\n", v.Status)
	fmt.Printf("  Expires:      %s (%d days left)\n", v.ExpiresAt.Format("2006-01-02"), v.RemainingDays)
	fmt.Printf("  Devices:      %d\n", v.MaxDevices)
	fmt.Printf("  Revision:     %d\n", v.ServerRevision)
	if v.OwnerEmail != "" {
		fmt.Printf("  Owner:        %s\n", v.OwnerEmail)
	}
	fmt.Println("========================================")
}

// generateKeyPair writes the PEM files LICENSE_PRIVATE_KEY and
// LICENSE_PUBLIC_KEY point at.
func generateKeyPair(t *tool) {
	fmt.Println("\n--- Generate Signing Key Pair ---")
	prefix := t.prompt("File prefix [license]: ")
	if prefix == "" {
		prefix = "license"
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		fmt.Printf("Failed to generate key: %v\n", err)
		return
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		fmt.Printf("Failed to encode public key: %v\n", err)
		return
	}

	privPath, pubPath := prefix+"_private.pem", prefix+"_public.pem"
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		fmt.Printf("Failed to write %s: %v\n", privPath, err)
		return
	}
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		fmt.Printf("Failed to write %s: %v\n", pubPath, err)
		return
	}
	fmt.Printf("Private key: %s (keep on the server only)\n", privPath)
	fmt.Printf("Public key:  %s (ship with clients)\n", pubPath)
}
