// Command processor runs one batch of the email-to-calendar pipeline:
// it polls the inbox for meeting-request emails, extracts structured
// events, persists new ones, and mails calendar invites back.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ignite/mailcal/internal/config"
	"github.com/ignite/mailcal/internal/dispatch"
	"github.com/ignite/mailcal/internal/extract"
	"github.com/ignite/mailcal/internal/invite"
	"github.com/ignite/mailcal/internal/mailbox"
	"github.com/ignite/mailcal/internal/pipeline"
	"github.com/ignite/mailcal/internal/secrets"
	"github.com/ignite/mailcal/internal/store"
)

func main() {
	log.Println("Starting mailcal processor...")
	if err := run(); err != nil {
		log.Fatalf("Fatal: %v", err)
	}
}

// run acquires every batch resource, processes the batch, and releases
// the resources on all exit paths via defers.
func run() error {
	configPath := os.Getenv("MAILCAL_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	sec, err := secrets.Open(cfg.Secrets.KeyFile, cfg.Secrets.EnvFile)
	if err != nil {
		return fmt.Errorf("open secrets store: %w", err)
	}
	password, err := sec.Get("EMAIL_PASSWORD")
	if err != nil {
		return fmt.Errorf("read mailbox password: %w", err)
	}
	if password == "" {
		return fmt.Errorf("EMAIL_PASSWORD is not set; run setup-credentials first")
	}

	ctx := context.Background()

	db, err := sql.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	log.Printf("Connected to %s database", cfg.Storage.Driver)

	generator, err := extract.NewBedrockGenerator(ctx, cfg.Bedrock.ModelID, cfg.Bedrock.Region)
	if err != nil {
		return fmt.Errorf("init text generator: %w", err)
	}

	imapAddr := fmt.Sprintf("%s:%d", cfg.Mailbox.Host, cfg.Mailbox.Port)
	mb, err := mailbox.Dial(imapAddr, cfg.Mailbox.Address, password)
	if err != nil {
		return err
	}
	defer func() {
		if err := mb.Close(); err != nil {
			log.Printf("Mailbox close: %v", err)
		}
	}()

	msgs, err := mb.FetchMatching(cfg.SubjectFilter)
	if err != nil {
		return err
	}

	p := pipeline.New(
		extract.NewEngine(generator),
		store.New(db, cfg.Storage.Driver, store.MatchMode(cfg.Storage.DedupMode)),
		invite.NewBuilder(cfg.Mailbox.Address, loc),
		dispatch.NewSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.Mailbox.Address, password, cfg.Mailbox.Address),
		cfg.Mailbox.Address,
	)

	if _, err := p.Run(ctx, msgs); err != nil {
		return err
	}
	return nil
}
