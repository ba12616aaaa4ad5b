package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// postJSON posts a JSON body to a wallet admin endpoint and decodes the
// JSON response into result.
func (c *Client) postJSON(ctx context.Context, path string, body, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RPCError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type walletRequest struct {
	ID         string `json:"id"`
	Password   string `json:"password,omitempty"`
	Mnemonic   string `json:"mnemonic,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// CreateWallet creates a wallet on the daemon and returns its backup
// mnemonic.
func (c *Client) CreateWallet(ctx context.Context, id, password string) (string, error) {
	var res struct {
		Mnemonic string `json:"mnemonic"`
	}
	err := c.postJSON(ctx, "/wallet/create", walletRequest{ID: id, Password: password}, &res)
	return res.Mnemonic, err
}

// RestoreWallet stores a wallet seed from an existing mnemonic.
func (c *Client) RestoreWallet(ctx context.Context, id, mnemonic, passphrase, password string) error {
	return c.postJSON(ctx, "/wallet/restore", walletRequest{
		ID: id, Mnemonic: mnemonic, Passphrase: passphrase, Password: password,
	}, nil)
}

// OpenWallet opens a wallet on the daemon.
func (c *Client) OpenWallet(ctx context.Context, id, password string) error {
	return c.postJSON(ctx, "/wallet/open", walletRequest{ID: id, Password: password}, nil)
}

// CloseWallet closes an open wallet.
func (c *Client) CloseWallet(ctx context.Context, id string) error {
	return c.postJSON(ctx, "/wallet/close", walletRequest{ID: id}, nil)
}

// WalletInfo mirrors the daemon's wallet listing entry.
type WalletInfo struct {
	ID   string `json:"id"`
	Open bool   `json:"open"`
}

// ListWallets returns the daemon's known wallet identities.
func (c *Client) ListWallets(ctx context.Context) ([]WalletInfo, error) {
	var res struct {
		Wallets []WalletInfo `json:"wallets"`
	}
	if err := c.postJSON(ctx, "/wallet/list", struct{}{}, &res); err != nil {
		return nil, err
	}
	return res.Wallets, nil
}
