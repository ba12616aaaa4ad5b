// Package rpc exposes wallet capabilities over HTTP. Every operation goes
// through one uniform contract: POST an invocation, read back a newline-
// delimited stream of results ending with a terminal end marker. Closing
// the connection cancels the in-flight invocation.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mintward/mintward/config"
	"github.com/mintward/mintward/internal/client"
	klog "github.com/mintward/mintward/internal/log"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// InvokeRequest is the body of POST /invoke.
type InvokeRequest struct {
	Wallet     string          `json:"wallet"`
	Capability string          `json:"capability"`
	Method     string          `json:"method"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Server is the HTTP invocation bridge.
type Server struct {
	addr        string
	wallets     *client.Registry
	openOpts    client.Options // Applied to every wallet opened over RPC.
	server      *http.Server
	ln          net.Listener
	logger      zerolog.Logger
	allowedNets []*net.IPNet // Empty = allow all.
}

// New creates an RPC server over the wallet registry. openOpts is applied
// to wallets opened through the RPC surface. A zero-value RPCConfig allows
// all client IPs.
func New(addr string, wallets *client.Registry, openOpts client.Options, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:     addr,
		wallets:  wallets,
		openOpts: openOpts,
		logger:   klog.RPC,
	}
	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", s.handleInvoke)
	mux.HandleFunc("/wallet/create", s.walletHandler(s.handleWalletCreate))
	mux.HandleFunc("/wallet/restore", s.walletHandler(s.handleWalletRestore))
	mux.HandleFunc("/wallet/open", s.walletHandler(s.handleWalletOpen))
	mux.HandleFunc("/wallet/close", s.walletHandler(s.handleWalletClose))
	mux.HandleFunc("/wallet/list", s.walletHandler(s.handleWalletList))

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: await-style invocations stream indefinitely
		// and are bounded by the client closing the connection.
	}
	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// remoteAllowed applies the configured IP allowlist to a request.
func (s *Server) remoteAllowed(r *http.Request) bool {
	if len(s.allowedNets) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && s.isIPAllowed(ip)
}

// handleInvoke runs one capability invocation and streams its results as
// newline-delimited JSON.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if !s.remoteAllowed(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodySize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var req InvokeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	c, ok := s.wallets.Get(req.Wallet)
	if !ok {
		http.Error(w, fmt.Sprintf("wallet %q is not open", req.Wallet), http.StatusNotFound)
		return
	}

	// Resolution failures are scoped to this invocation.
	call, err := c.Dispatch().Invoke(r.Context(), req.Capability, req.Method, req.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer call.Cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for res := range call.Results() {
		if err := enc.Encode(res); err != nil {
			// Client went away; the deferred Cancel stops the handler.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// WalletRequest is the body of the /wallet/* admin endpoints. Only the
// fields relevant to each endpoint are read.
type WalletRequest struct {
	ID         string `json:"id"`
	Password   string `json:"password,omitempty"`
	Mnemonic   string `json:"mnemonic,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// walletHandler wraps an admin endpoint with the shared IP filter, method
// check and body decoding.
func (s *Server) walletHandler(fn func(WalletRequest) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.remoteAllowed(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "only POST method is allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
		if err != nil || len(body) > maxBodySize {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		var req WalletRequest
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, "invalid JSON", http.StatusBadRequest)
				return
			}
		}
		result, err := fn(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func (s *Server) handleWalletCreate(req WalletRequest) (interface{}, error) {
	mnemonic, err := s.wallets.Create(req.ID, []byte(req.Password))
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("wallet", req.ID).Msg("wallet created")
	return map[string]string{"mnemonic": mnemonic}, nil
}

func (s *Server) handleWalletRestore(req WalletRequest) (interface{}, error) {
	if err := s.wallets.Restore(req.ID, req.Mnemonic, req.Passphrase, []byte(req.Password)); err != nil {
		return nil, err
	}
	s.logger.Info().Str("wallet", req.ID).Msg("wallet restored from mnemonic")
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleWalletOpen(req WalletRequest) (interface{}, error) {
	if _, err := s.wallets.Open(req.ID, []byte(req.Password), s.openOpts); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleWalletClose(req WalletRequest) (interface{}, error) {
	if err := s.wallets.Close(req.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleWalletList(WalletRequest) (interface{}, error) {
	infos, err := s.wallets.List()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"wallets": infos}, nil
}
