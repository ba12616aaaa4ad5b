package client

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mintward/mintward/internal/keychain"
	klog "github.com/mintward/mintward/internal/log"
	"github.com/mintward/mintward/internal/storage"
)

// Registry tracks open wallets by identity and enforces exclusive open:
// one active client per wallet at a time, held by the registry itself
// rather than by process-wide state. The store's own directory lock covers
// the cross-process case.
type Registry struct {
	dataDir  string
	keystore *keychain.Keystore

	mu   sync.Mutex
	open map[string]*Client
}

// NewRegistry creates a wallet registry rooted at dataDir. Encrypted root
// seeds live under dataDir/keys, wallet stores under dataDir/<id>.
func NewRegistry(dataDir string) (*Registry, error) {
	ks, err := keychain.NewKeystore(filepath.Join(dataDir, "keys"))
	if err != nil {
		return nil, err
	}
	return &Registry{
		dataDir:  dataDir,
		keystore: ks,
		open:     make(map[string]*Client),
	}, nil
}

// Create generates a new wallet: a fresh 24-word mnemonic whose seed is
// encrypted under password. Returns the mnemonic for the user to back up;
// it is the wallet's only recovery material.
func (r *Registry) Create(id string, password []byte) (string, error) {
	mnemonic, err := keychain.GenerateMnemonic()
	if err != nil {
		return "", err
	}
	if err := r.saveSeed(id, mnemonic, "", password); err != nil {
		return "", err
	}
	return mnemonic, nil
}

// Restore sets up a wallet from an existing mnemonic. The next Open will
// find an empty store and replay the federation's history.
func (r *Registry) Restore(id, mnemonic, passphrase string, password []byte) error {
	return r.saveSeed(id, mnemonic, passphrase, password)
}

func (r *Registry) saveSeed(id, mnemonic, passphrase string, password []byte) error {
	seed, err := keychain.SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return err
	}
	if err := r.keystore.Create(id, seed, password, keychain.DefaultParams()); err != nil {
		return err
	}
	klog.Client.Info().Str("wallet", id).Msg("wallet seed stored")
	return nil
}

// Exists reports whether a wallet identity has a stored seed.
func (r *Registry) Exists(id string) bool {
	return r.keystore.Exists(id)
}

// Open opens the wallet exclusively. A second Open of the same identity
// fails until the first client is closed via the registry.
func (r *Registry) Open(id string, password []byte, opts Options) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.open[id]; ok {
		return nil, fmt.Errorf("wallet %q is already open", id)
	}

	seed, err := r.keystore.Load(id, password)
	if err != nil {
		return nil, err
	}

	db, err := storage.NewBadger(filepath.Join(r.dataDir, id))
	if err != nil {
		return nil, err
	}

	c, err := Open(id, db, seed, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	r.open[id] = c
	return c, nil
}

// Get returns the open client for an identity, if any.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.open[id]
	return c, ok
}

// Close closes the wallet and releases its identity for reopening.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	c, ok := r.open[id]
	delete(r.open, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("wallet %q is not open", id)
	}
	return c.Close()
}

// WalletInfo describes one known wallet identity.
type WalletInfo struct {
	ID   string `json:"id"`
	Open bool   `json:"open"`
}

// List returns every wallet identity with a stored seed and whether it is
// currently open.
func (r *Registry) List() ([]WalletInfo, error) {
	ids, err := r.keystore.List()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]WalletInfo, 0, len(ids))
	for _, id := range ids {
		_, open := r.open[id]
		infos = append(infos, WalletInfo{ID: id, Open: open})
	}
	return infos, nil
}

// CloseAll closes every open wallet.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.open))
	for id, c := range r.open {
		clients = append(clients, c)
		delete(r.open, id)
	}
	r.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
