// Command setup-credentials captures the mailbox password interactively
// and writes it to the encrypted secrets store. Plaintext never touches
// disk.
package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/ignite/mailcal/internal/config"
	"github.com/ignite/mailcal/internal/secrets"
)

func main() {
	configPath := os.Getenv("MAILCAL_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Setting up secure credentials...")

	fmt.Print("Enter EMAIL_PASSWORD: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read password: %v\n", err)
		os.Exit(1)
	}
	if len(password) == 0 {
		fmt.Fprintln(os.Stderr, "FATAL: password must not be empty")
		os.Exit(1)
	}

	store, err := secrets.Open(cfg.Secrets.KeyFile, cfg.Secrets.EnvFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open secrets store: %v\n", err)
		os.Exit(1)
	}

	if err := store.EncryptValues(map[string]string{
		"EMAIL_PASSWORD": string(password),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: encrypt credentials: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Credentials encrypted successfully!")
	fmt.Printf("IMPORTANT: Keep %s secure and back up both %s and %s.\n",
		cfg.Secrets.KeyFile, cfg.Secrets.KeyFile, cfg.Secrets.EnvFile)
}
