package keychain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// keystoreFile is the on-disk JSON format for an encrypted root seed.
type keystoreFile struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	EncryptedSeed []byte    `json:"encrypted_seed"`
}

const keystoreVersion = 1

// Keystore manages encrypted root seeds on disk, one file per wallet
// identity.
type Keystore struct {
	dir string
}

// NewKeystore creates a keystore rooted at the given directory.
func NewKeystore(dir string) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{dir: dir}, nil
}

func (ks *Keystore) seedPath(walletID string) string {
	return filepath.Join(ks.dir, walletID+".seed.json")
}

// Exists reports whether a seed file is present for the wallet identity.
func (ks *Keystore) Exists(walletID string) bool {
	_, err := os.Stat(ks.seedPath(walletID))
	return err == nil
}

// List returns the wallet identities with stored seeds, sorted.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.dir)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".seed.json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".seed.json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Create encrypts and stores the root seed for a wallet identity.
// Fails if a seed file already exists.
func (ks *Keystore) Create(walletID string, seed, password []byte, params EncryptionParams) error {
	path := ks.seedPath(walletID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("seed for wallet %q already exists", walletID)
	}

	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return fmt.Errorf("encrypt seed: %w", err)
	}

	kf := &keystoreFile{
		Version:       keystoreVersion,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: encrypted,
	}
	return ks.writeFile(path, kf)
}

// Load decrypts and returns the root seed for a wallet identity.
func (ks *Keystore) Load(walletID string, password []byte) ([]byte, error) {
	kf, err := ks.readFile(ks.seedPath(walletID))
	if err != nil {
		return nil, err
	}
	seed, err := Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt seed for wallet %q: %w", walletID, err)
	}
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("stored seed has %d bytes, want %d", len(seed), SeedSize)
	}
	return seed, nil
}

// Delete removes the seed file for a wallet identity.
func (ks *Keystore) Delete(walletID string) error {
	if err := os.Remove(ks.seedPath(walletID)); err != nil {
		return fmt.Errorf("delete seed for wallet %q: %w", walletID, err)
	}
	return nil
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename keystore: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(path string) (*keystoreFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	return &kf, nil
}
