// Command verify-setup checks that the encrypted credential store is in
// a usable state before the processor runs for the first time.
package main

import (
	"fmt"
	"os"

	"github.com/ignite/mailcal/internal/config"
	"github.com/ignite/mailcal/internal/secrets"
)

type checkResult struct {
	Name   string
	Passed bool
	Detail string
}

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

	fmt.Println("=========================================================")
	fmt.Println(" Secure Configuration Setup Verification")
	fmt.Println("=========================================================")
	fmt.Printf("Key file:           %s\n", cfg.Secrets.KeyFile)
	fmt.Printf("Encrypted env file: %s\n", cfg.Secrets.EnvFile)
	fmt.Println("---------------------------------------------------------")

	var results []checkResult
	results = append(results, checkFileExists("Encryption key file", cfg.Secrets.KeyFile))
	results = append(results, checkKeyPermissions(cfg.Secrets.KeyFile))
	results = append(results, checkFileExists("Encrypted credentials file", cfg.Secrets.EnvFile))
	results = append(results, checkPlaintextAbsent())
	results = append(results, checkDecryption(cfg.Secrets.KeyFile, cfg.Secrets.EnvFile))

	fmt.Println()
	allPassed := true
	for _, r := range results {
		mark := "✓"
		if !r.Passed {
			mark = "✗"
			allPassed = false
		}
		fmt.Printf("%s %s", mark, r.Name)
		if r.Detail != "" {
			fmt.Printf(" (%s)", r.Detail)
		}
		fmt.Println()
	}

	fmt.Println()
	if !allPassed {
		fmt.Println("Verification failed. Run setup-credentials and retry.")
		os.Exit(1)
	}
	fmt.Println("Verification complete! Setup appears to be working correctly.")
}

func checkFileExists(name, path string) checkResult {
	if _, err := os.Stat(path); err != nil {
		return checkResult{Name: name, Passed: false, Detail: "missing"}
	}
	return checkResult{Name: name, Passed: true, Detail: "found"}
}

func checkKeyPermissions(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{Name: "Key file permissions", Passed: false, Detail: "missing"}
	}
	mode := info.Mode().Perm()
	if mode != secrets.KeyFileMode {
		return checkResult{Name: "Key file permissions", Passed: false, Detail: fmt.Sprintf("got %04o, want %04o", mode, secrets.KeyFileMode)}
	}
	return checkResult{Name: "Key file permissions", Passed: true, Detail: "0400"}
}

// checkPlaintextAbsent verifies no plaintext .env file is left behind.
func checkPlaintextAbsent() checkResult {
	if _, err := os.Stat(".env"); err == nil {
		return checkResult{Name: "No plaintext .env file", Passed: false, Detail: "plaintext .env still exists, delete it"}
	}
	return checkResult{Name: "No plaintext .env file", Passed: true}
}

func checkDecryption(keyFile, envFile string) checkResult {
	store, err := secrets.Open(keyFile, envFile)
	if err != nil {
		return checkResult{Name: "Credential decryption", Passed: false, Detail: err.Error()}
	}
	password, err := store.Get("EMAIL_PASSWORD")
	if err != nil {
		return checkResult{Name: "Credential decryption", Passed: false, Detail: err.Error()}
	}
	if password == "" {
		return checkResult{Name: "Credential decryption", Passed: false, Detail: "EMAIL_PASSWORD not set"}
	}
	return checkResult{Name: "Credential decryption", Passed: true, Detail: fmt.Sprintf("password length %d", len(password))}
}
