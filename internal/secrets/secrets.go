// Package secrets stores mailbox credentials as an encrypted env file.
// A random symmetric key lives in a 0400 key file next to the encrypted
// payload; values are sealed with NaCl secretbox.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
	// KeyFileMode is the permission the key file must carry.
	KeyFileMode = os.FileMode(0400)
)

// Store reads and writes the encrypted env file.
type Store struct {
	keyFile string
	envFile string
	key     [keySize]byte
}

// Open loads the key from keyFile, generating one if the file does not
// exist yet. The key file is forced to owner read-only either way.
func Open(keyFile, envFile string) (*Store, error) {
	s := &Store{keyFile: keyFile, envFile: envFile}

	data, err := os.ReadFile(keyFile)
	switch {
	case err == nil:
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(raw) != keySize {
			return nil, fmt.Errorf("key file %s is corrupt", keyFile)
		}
		copy(s.key[:], raw)
		if err := os.Chmod(keyFile, KeyFileMode); err != nil {
			return nil, fmt.Errorf("restrict key file permissions: %w", err)
		}
	case os.IsNotExist(err):
		if _, err := rand.Read(s.key[:]); err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		encoded := base64.StdEncoding.EncodeToString(s.key[:])
		if err := os.WriteFile(keyFile, []byte(encoded), KeyFileMode); err != nil {
			return nil, fmt.Errorf("write key file: %w", err)
		}
	default:
		return nil, fmt.Errorf("read key file: %w", err)
	}

	return s, nil
}

// EncryptValues seals the given KEY=VALUE pairs into the env file,
// replacing any previous contents. Plaintext never touches disk.
func (s *Store) EncryptValues(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, values[k])
	}
	return s.encrypt([]byte(b.String()))
}

// EncryptEnvFile seals an existing plaintext env file, after which the
// plaintext can be deleted.
func (s *Store) EncryptEnvFile(path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return s.encrypt(contents)
}

func (s *Store) encrypt(plaintext []byte) error {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	encoded := base64.StdEncoding.EncodeToString(sealed)
	if err := os.WriteFile(s.envFile, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("write encrypted env: %w", err)
	}
	return nil
}

// decryptEnv opens the encrypted env file and parses it into a map.
func (s *Store) decryptEnv() (map[string]string, error) {
	data, err := os.ReadFile(s.envFile)
	if err != nil {
		return nil, fmt.Errorf("read encrypted env: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(sealed) < nonceSize {
		return nil, fmt.Errorf("encrypted env file %s is corrupt", s.envFile)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("decrypt env: key does not match %s", s.envFile)
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(plaintext), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		vars[k] = strings.Trim(strings.Trim(v, "'"), `"`)
	}
	return vars, nil
}

// Get returns the named secret, or an empty string when it is absent.
func (s *Store) Get(key string) (string, error) {
	vars, err := s.decryptEnv()
	if err != nil {
		return "", err
	}
	return vars[key], nil
}
