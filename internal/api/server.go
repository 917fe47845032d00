// Package api is the operator-facing HTTP surface: wallet registration,
// notification channel setup, manual checks, and monitor lifecycle. The
// monitoring core does not depend on it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethwatch/wallet-monitor/internal/ethunits"
	"github.com/ethwatch/wallet-monitor/internal/keystore"
	"github.com/ethwatch/wallet-monitor/internal/monitor"
	"github.com/ethwatch/wallet-monitor/internal/notify"
	"github.com/ethwatch/wallet-monitor/internal/storage"
	"github.com/ethwatch/wallet-monitor/internal/stream"
)

// Server handles the operator HTTP API.
type Server struct {
	store     *storage.Storage
	scheduler *monitor.Scheduler
	notifier  *notify.Notifier
	hub       *stream.Hub
	log       *slog.Logger

	server *http.Server
}

// NewServer creates a new Server
func NewServer(store *storage.Storage, scheduler *monitor.Scheduler, notifier *notify.Notifier, hub *stream.Hub, log *slog.Logger) *Server {
	return &Server{
		store:     store,
		scheduler: scheduler,
		notifier:  notifier,
		hub:       hub,
		log:       log,
	}
}

// Start starts the API server and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("starting api server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)

	mux.HandleFunc("GET /api/wallets", s.handleListWallets)
	mux.HandleFunc("POST /api/wallets", s.handleRegisterWallet)
	mux.HandleFunc("POST /api/wallets/{address}/toggle", s.handleToggleWallet)
	mux.HandleFunc("POST /api/wallets/{address}/check", s.handleManualCheck)
	mux.HandleFunc("GET /api/wallets/{address}/history", s.handleHistory)
	mux.HandleFunc("GET /api/wallets/{address}/transactions", s.handleTransactions)

	mux.HandleFunc("POST /api/telegram", s.handleTelegram)
	mux.HandleFunc("POST /api/forwarding", s.handleForwarding)

	mux.HandleFunc("POST /api/monitor/start", s.handleMonitorStart)
	mux.HandleFunc("POST /api/monitor/stop", s.handleMonitorStop)
	mux.HandleFunc("GET /api/monitor/status", s.handleMonitorStatus)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// --- Wallets ---

type registerWalletRequest struct {
	// Either a private key (address derived, key discarded) or an address.
	PrivateKey string `json:"private_key,omitempty"`
	Address    string `json:"address,omitempty"`

	AlertThreshold    string `json:"alert_threshold"`     // ether, e.g. "0.01"
	MinForwardAmount  string `json:"min_forward_amount"`  // ether
	RetainedThreshold string `json:"retained_threshold"`  // ether
	ForwardingEnabled bool   `json:"forwarding_enabled"`
}

type walletResponse struct {
	Address           string  `json:"address"`
	Active            bool    `json:"is_active"`
	Balance           string  `json:"balance_eth"`
	LastChecked       *string `json:"last_checked,omitempty"`
	AlertThreshold    string  `json:"alert_threshold_eth"`
	ForwardingEnabled bool    `json:"forwarding_enabled"`
	MinForwardAmount  string  `json:"min_forward_amount_eth"`
	RetainedThreshold string  `json:"retained_threshold_eth"`
}

func walletToResponse(w *storage.Wallet) walletResponse {
	resp := walletResponse{
		Address:           w.Address,
		Active:            w.Active,
		Balance:           ethunits.FormatWei(w.LastBalance),
		AlertThreshold:    ethunits.FormatWei(w.AlertThreshold),
		ForwardingEnabled: w.ForwardingEnabled,
		MinForwardAmount:  ethunits.FormatWei(w.MinForward),
		RetainedThreshold: ethunits.FormatWei(w.RetainedThreshold),
	}
	if w.LastChecked != nil {
		t := w.LastChecked.UTC().Format(time.RFC3339)
		resp.LastChecked = &t
	}
	return resp
}

func (s *Server) handleRegisterWallet(w http.ResponseWriter, r *http.Request) {
	var req registerWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var address string
	switch {
	case req.PrivateKey != "":
		// The key only serves to derive the address here. It is never
		// persisted; forwarding looks it up from the environment.
		key, err := keystore.ParseKey(req.PrivateKey)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		address = keystore.Address(key)
	case req.Address != "":
		if !common.IsHexAddress(req.Address) {
			s.writeError(w, http.StatusBadRequest, "invalid ethereum address format")
			return
		}
		address = keystore.Normalize(common.HexToAddress(req.Address).Hex())
	default:
		s.writeError(w, http.StatusBadRequest, "private_key or address is required")
		return
	}

	alert, err := parseEtherField(req.AlertThreshold, "0.01")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "alert_threshold: "+err.Error())
		return
	}
	minFwd, err := parseEtherField(req.MinForwardAmount, "0.001")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "min_forward_amount: "+err.Error())
		return
	}
	retained, err := parseEtherField(req.RetainedThreshold, "0")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "retained_threshold: "+err.Error())
		return
	}

	wallet, err := s.store.UpsertWallet(address, alert, minFwd, retained, req.ForwardingEnabled)
	if err != nil {
		s.log.Error("register wallet", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to register wallet")
		return
	}

	s.log.Info("wallet registered", "address", wallet.Address)
	s.writeJSON(w, http.StatusCreated, walletToResponse(wallet))
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.store.GetAllWallets()
	if err != nil {
		s.log.Error("list wallets", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list wallets")
		return
	}

	resp := make([]walletResponse, 0, len(wallets))
	for i := range wallets {
		resp = append(resp, walletToResponse(&wallets[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleToggleWallet(w http.ResponseWriter, r *http.Request) {
	address := keystore.Normalize(r.PathValue("address"))

	wallet, err := s.store.GetWallet(address)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}

	if err := s.store.SetWalletActive(address, !wallet.Active); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to toggle wallet")
		return
	}

	status := "deactivated"
	if !wallet.Active {
		status = "activated"
	}
	s.log.Info("wallet toggled", "address", address, "status", status)
	s.writeJSON(w, http.StatusOK, map[string]string{"address": address, "status": status})
}

func (s *Server) handleManualCheck(w http.ResponseWriter, r *http.Request) {
	address := keystore.Normalize(r.PathValue("address"))

	obs, fwd, err := s.scheduler.CheckWallet(r.Context(), address)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		s.log.Error("manual check", "address", address, "error", err)
		s.writeError(w, http.StatusInternalServerError, "manual check failed")
		return
	}

	resp := map[string]any{
		"address": address,
		"changed": obs.Changed,
	}
	if obs.Changed {
		resp["balance_eth"] = ethunits.FormatWei(obs.NewBalance)
		resp["change_eth"] = ethunits.FormatWeiSigned(obs.Delta)
		resp["notification_sent"] = obs.NotificationSent
	}
	if obs.ShouldForward {
		resp["forwarding"] = fwd.Outcome.String()
		if fwd.TxHash != "" {
			resp["tx_hash"] = fwd.TxHash
		}
		if fwd.Reason != "" {
			resp["skip_reason"] = string(fwd.Reason)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	address := keystore.Normalize(r.PathValue("address"))

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	history, err := s.store.ListHistory(address, since, 1000)
	if err != nil {
		s.log.Error("list history", "address", address, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	type point struct {
		Timestamp string  `json:"timestamp"`
		Balance   float64 `json:"balance"`
		Change    string  `json:"balance_change"`
	}
	resp := make([]point, 0, len(history))
	for _, snap := range history {
		resp = append(resp, point{
			Timestamp: snap.Timestamp.UTC().Format(time.RFC3339),
			Balance:   ethunits.EtherFloat(snap.Balance),
			Change:    ethunits.FormatWeiSigned(snap.Change),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	address := keystore.Normalize(r.PathValue("address"))

	records, err := s.store.ListTransactions(address, 50)
	if err != nil {
		s.log.Error("list transactions", "address", address, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}

	type entry struct {
		Hash       string `json:"hash"`
		From       string `json:"from"`
		To         string `json:"to"`
		Value      string `json:"value_eth"`
		IsIncoming bool   `json:"is_incoming"`
		Block      *int64 `json:"block_number,omitempty"`
		Timestamp  string `json:"timestamp"`
	}
	resp := make([]entry, 0, len(records))
	for _, rec := range records {
		resp = append(resp, entry{
			Hash:       rec.Hash,
			From:       rec.From,
			To:         rec.To,
			Value:      ethunits.FormatWei(rec.Value),
			IsIncoming: rec.IsIncoming,
			Block:      rec.BlockNumber,
			Timestamp:  rec.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- Configuration ---

func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BotToken string `json:"bot_token"`
		ChatID   string `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BotToken == "" || req.ChatID == "" {
		s.writeError(w, http.StatusBadRequest, "bot_token and chat_id are required")
		return
	}

	if err := s.notifier.Test(r.Context(), req.BotToken, req.ChatID); err != nil {
		s.log.Warn("telegram connection test failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to connect to telegram, check bot token and chat id")
		return
	}

	if err := s.store.SetTelegramConfig(req.BotToken, req.ChatID); err != nil {
		s.log.Error("save telegram config", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save telegram config")
		return
	}

	s.log.Info("telegram channel configured")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "configured"})
}

func (s *Server) handleForwarding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MinForwardAmount  string `json:"min_forward_amount"` // ether
		RetainedThreshold string `json:"retained_threshold"` // ether
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	minFwd, err := parseEtherField(req.MinForwardAmount, "0.001")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "min_forward_amount: "+err.Error())
		return
	}
	retained, err := parseEtherField(req.RetainedThreshold, "0")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "retained_threshold: "+err.Error())
		return
	}

	if err := s.store.UpdateForwarding(minFwd, retained); err != nil {
		s.log.Error("update forwarding", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update forwarding config")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "configured"})
}

// --- Monitor lifecycle ---

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	// Tie the monitor's lifetime to the process, not this request.
	s.scheduler.Start(context.Background())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Stop()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	status := "stopped"
	if s.scheduler.IsRunning() {
		status = "running"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// --- Helpers ---

func parseEtherField(value, fallback string) (*big.Int, error) {
	if value == "" {
		value = fallback
	}
	return ethunits.ParseEther(value)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
