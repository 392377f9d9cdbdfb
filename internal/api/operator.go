package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghostmesh/ghostnode/internal/facade"
	"github.com/ghostmesh/ghostnode/internal/ghosterr"
	"github.com/ghostmesh/ghostnode/internal/ledger"
	"github.com/ghostmesh/ghostnode/internal/store"
	"github.com/ghostmesh/ghostnode/pkg/logging"
)

// OperatorServer serves the local REST + WebSocket API used by wallets and
// other clients of this node: wallet accounts, mining, transfers,
// asset/contract/message operations, and a live event feed (§6).
type OperatorServer struct {
	facade         *facade.Facade
	hub            *WSHub
	log            *logging.Logger
	server         *http.Server
	stop           chan struct{}
	devSeedBalance float64
}

// NewOperatorServer returns an OperatorServer backed by f, with its own
// WSHub event loop. devSeedBalance seeds every newly-created wallet with
// that balance (0 in production; a nonzero dev/test override per
// SPEC_FULL.md Part D).
func NewOperatorServer(f *facade.Facade, devSeedBalance float64) *OperatorServer {
	return &OperatorServer{
		facade:         f,
		hub:            NewWSHub(),
		log:            logging.GetDefault().Component("operator-api"),
		stop:           make(chan struct{}),
		devSeedBalance: devSeedBalance,
	}
}

// Start launches the WSHub event loop and listens on addr.
func (s *OperatorServer) Start(addr string) error {
	go s.hub.Run(s.stop)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.hub.handleWS)
	mux.HandleFunc("GET /metrics", promhttp.Handler().ServeHTTP)

	mux.HandleFunc("POST /wallet/create", s.handleWalletCreate)
	mux.HandleFunc("POST /wallet/login", s.handleWalletLogin)
	mux.HandleFunc("GET /wallet/{id}", s.handleWalletGet)

	mux.HandleFunc("POST /mine", s.handleMine)
	mux.HandleFunc("POST /transfer", s.handleTransfer)
	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("POST /assets/domain", s.handleRegisterDomain)
	mux.HandleFunc("POST /assets/media", s.handleRegisterMedia)
	mux.HandleFunc("GET /assets/search", s.handleSearchAssets)
	mux.HandleFunc("GET /assets/{id}", s.handleGetAsset)
	mux.HandleFunc("PUT /assets/{id}", s.handleUpdateAsset)
	mux.HandleFunc("DELETE /assets/{id}", s.handleDeleteAsset)

	mux.HandleFunc("POST /contracts/deploy", s.handleDeployContract)
	mux.HandleFunc("POST /contracts/{address}/call", s.handleCallContract)
	mux.HandleFunc("GET /contracts/{address}", s.handleGetContract)

	mux.HandleFunc("POST /messages/send", s.handleSendMessage)
	mux.HandleFunc("GET /messages/{other}", s.handleConversation)
	mux.HandleFunc("POST /friends/invite", s.handleInvite)
	mux.HandleFunc("GET /friends/{wallet}", s.handleFriends)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("operator API server error", "error", err)
		}
	}()
	s.log.Info("operator API listening", "addr", addr)
	return nil
}

// Stop shuts the HTTP server down and stops the WSHub event loop.
func (s *OperatorServer) Stop() error {
	close(s.stop)
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

func (s *OperatorServer) handleWalletCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WalletID string `json:"wallet_id"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	verifier, err := ledger.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	wallet := &store.Wallet{
		WalletID:     body.WalletID,
		Username:     body.Username,
		PasswordHash: verifier,
		Balance:      s.devSeedBalance,
	}
	if err := s.facade.Store.CreateWallet(wallet); err != nil {
		if err == store.ErrDuplicateKey {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]string{"wallet_id": wallet.WalletID})
}

func (s *OperatorServer) handleWalletLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wallet, err := s.facade.Store.GetWalletByUsername(body.Username)
	if err != nil {
		writeError(w, statusFor(translateStoreErr(err)), err)
		return
	}
	ok, err := ledger.VerifyPassword(wallet.PasswordHash, body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, ghosterr.New(ghosterr.Unauthorized, "bad credentials"))
		return
	}
	writeJSON(w, map[string]interface{}{"wallet_id": wallet.WalletID, "balance": wallet.Balance})
}

func (s *OperatorServer) handleWalletGet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.facade.Store.GetWalletByID(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(translateStoreErr(err)), err)
		return
	}
	writeJSON(w, map[string]interface{}{"wallet_id": wallet.WalletID, "balance": wallet.Balance})
}

func (s *OperatorServer) handleMine(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WalletID string `json:"wallet_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	block, err := s.facade.Mine(body.WalletID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.hub.Broadcast(EventBlockMined, block)
	writeJSON(w, block)
}

func (s *OperatorServer) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Sender    string  `json:"sender"`
		Recipient string  `json:"recipient"`
		Amount    float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txn, err := s.facade.Transfer(body.Sender, body.Recipient, body.Amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.hub.Broadcast(EventTransferSettled, txn)
	writeJSON(w, txn)
}

func (s *OperatorServer) handleStats(w http.ResponseWriter, r *http.Request) {
	active, err := s.facade.Peers.ActiveCount(facade.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stats, err := s.facade.Ledger.GetStatistics(active)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, stats)
}

func (s *OperatorServer) handleRegisterDomain(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner   string `json:"owner"`
		Name    string `json:"name"`
		Content string `json:"content"` // base64
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content, err := decodeContent(body.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := s.facade.RegisterDomain(body.Owner, body.Name, content)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.hub.Broadcast(EventAssetRegistered, asset)
	writeJSON(w, asset)
}

func (s *OperatorServer) handleRegisterMedia(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner   string `json:"owner"`
		Type    string `json:"type"`
		Name    string `json:"name"`
		Content string `json:"content"` // base64
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content, err := decodeContent(body.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := s.facade.RegisterMedia(body.Owner, body.Type, body.Name, content)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.hub.Broadcast(EventAssetRegistered, asset)
	writeJSON(w, asset)
}

func (s *OperatorServer) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner   string `json:"owner"`
		Content string `json:"content"` // base64
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content, err := decodeContent(body.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := s.facade.UpdateAsset(body.Owner, r.PathValue("id"), content)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, asset)
}

func (s *OperatorServer) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.DeleteAsset(body.Owner, r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *OperatorServer) handleSearchAssets(w http.ResponseWriter, r *http.Request) {
	results, err := s.facade.Assets.Search(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, results)
}

func (s *OperatorServer) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.facade.Assets.GetData(r.PathValue("id"), facade.Now())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, asset)
}

func (s *OperatorServer) handleDeployContract(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner  string `json:"owner"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	contract, err := s.facade.DeployContract(body.Owner, body.Source)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, contract)
}

func (s *OperatorServer) handleCallContract(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Caller string        `json:"caller"`
		Method string        `json:"method"`
		Args   []interface{} `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.facade.CallContract(r.PathValue("address"), body.Caller, body.Method, body.Args)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, result)
}

func (s *OperatorServer) handleGetContract(w http.ResponseWriter, r *http.Request) {
	contract, err := s.facade.Contracts.Get(r.PathValue("address"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, contract)
}

func (s *OperatorServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Sender    string `json:"sender"`
		Recipient string `json:"recipient"`
		Content   string `json:"content"`
		AssetID   string `json:"asset_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msg, err := s.facade.SendMessage(body.Sender, body.Recipient, body.Content, body.AssetID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.hub.Broadcast(EventMessageReceived, msg)
	writeJSON(w, msg)
}

func (s *OperatorServer) handleConversation(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	other := r.PathValue("other")
	messages, err := s.facade.Messages.Conversation(user, other)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, messages)
}

func (s *OperatorServer) handleInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Inviter string `json:"inviter"`
		Invitee string `json:"invitee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.Invite(body.Inviter, body.Invitee); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *OperatorServer) handleFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := s.facade.Messages.Friends(r.PathValue("wallet"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, friends)
}

func decodeContent(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

func translateStoreErr(err error) error {
	if err == store.ErrNotFound {
		return ghosterr.New(ghosterr.NotFound, "not found")
	}
	return err
}
