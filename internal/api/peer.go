// Package api implements the node's two HTTP surfaces: the peer-facing
// API (§6) that other GhostProtocol nodes pull from and push to, and the
// local operator API used by wallets/clients of this node.
package api

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/ghostmesh/ghostnode/internal/facade"
	"github.com/ghostmesh/ghostnode/internal/store"
	"github.com/ghostmesh/ghostnode/internal/sync"
	"github.com/ghostmesh/ghostnode/pkg/logging"
)

// PeerServer serves the HTTP API other nodes use to sync with this one.
type PeerServer struct {
	facade *facade.Facade
	log    *logging.Logger
	server *http.Server
}

// NewPeerServer returns a PeerServer backed by f.
func NewPeerServer(f *facade.Facade) *PeerServer {
	return &PeerServer{facade: f, log: logging.GetDefault().Component("peer-api")}
}

// Start listens on addr for peer API requests.
func (s *PeerServer) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chain_meta", s.handleChainMeta)
	mux.HandleFunc("GET /chain", s.handleChain)
	mux.HandleFunc("GET /api/transactions", s.handleTransactions)
	mux.HandleFunc("GET /api/block/{hash}", s.handleBlock)
	mux.HandleFunc("GET /api/assets_meta", s.handleAssetsMeta)
	mux.HandleFunc("GET /api/asset_data/{id}", s.handleAssetData)
	mux.HandleFunc("POST /api/asset_announce", s.handleAssetAnnounce)
	mux.HandleFunc("POST /api/send_transaction", s.handleSendTransaction)
	mux.HandleFunc("POST /api/messenger/receive_message", s.handleReceiveMessage)
	mux.HandleFunc("POST /api/messenger/invite", s.handleReceiveInvite)
	mux.HandleFunc("GET /api/get_fees", s.handleGetFees)
	mux.HandleFunc("POST /peer_update", s.handlePeerUpdate)
	mux.HandleFunc("GET /api/node/stats", s.handleNodeStats)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("peer API server error", "error", err)
		}
	}()
	s.log.Info("peer API listening", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *PeerServer) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

func (s *PeerServer) handleChainMeta(w http.ResponseWriter, r *http.Request) {
	last, err := s.facade.Ledger.GetLastBlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, sync.ChainMeta{Height: last.Index, LastHash: last.BlockHash})
}

func (s *PeerServer) handleChain(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.facade.Store.AllBlocks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]sync.BlockDTO, len(blocks))
	for i, b := range blocks {
		out[i] = sync.BlockDTO{
			Index: b.Index, Timestamp: b.Timestamp, PreviousHash: b.PreviousHash,
			BlockHash: b.BlockHash, Proof: b.Proof, Miner: b.Miner,
		}
	}
	writeJSON(w, out)
}

// handleTransactions serves every transaction this node knows about, used
// by a peer adopting our chain wholesale to replay balances (§5).
func (s *PeerServer) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.facade.Store.AllTransactionsOrdered()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, txns)
}

func (s *PeerServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	block, err := s.facade.Ledger.GetBlock(hash)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, sync.BlockDTO{
		Index: block.Index, Timestamp: block.Timestamp, PreviousHash: block.PreviousHash,
		BlockHash: block.BlockHash, Proof: block.Proof, Miner: block.Miner,
	})
}

func (s *PeerServer) handleAssetsMeta(w http.ResponseWriter, r *http.Request) {
	all, err := s.facade.Assets.AllMeta()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]sync.AssetMetaDTO, len(all))
	for i, a := range all {
		out[i] = sync.AssetMetaDTO{
			ID: a.ID, Owner: a.Owner, Type: a.Type, Name: a.Name,
			Size: a.Size, CreatedAt: a.CreatedAt, ExpiryAt: a.ExpiryAt, Keywords: a.Keywords,
		}
	}
	writeJSON(w, out)
}

func (s *PeerServer) handleAssetData(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	asset, err := s.facade.Assets.GetData(id, facade.Now())
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, sync.AssetDataDTO{
		AssetMetaDTO: sync.AssetMetaDTO{
			ID: asset.ID, Owner: asset.Owner, Type: asset.Type, Name: asset.Name,
			Size: asset.Size, CreatedAt: asset.CreatedAt, ExpiryAt: asset.ExpiryAt, Keywords: asset.Keywords,
		},
		Content: base64.StdEncoding.EncodeToString(asset.Content),
	})
}

func (s *PeerServer) handleAssetAnnounce(w http.ResponseWriter, r *http.Request) {
	var dto sync.AssetMetaDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// An announce carries metadata only; the asset's content is fetched on
	// the next reconciliation pass via /api/asset_data/{id}.
	w.WriteHeader(http.StatusAccepted)
}

func (s *PeerServer) handleSendTransaction(w http.ResponseWriter, r *http.Request) {
	var t store.Transaction
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.Ledger.ReceiveTransaction(&t); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *PeerServer) handleReceiveMessage(w http.ResponseWriter, r *http.Request) {
	var m store.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.Messages.Receive(&m); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *PeerServer) handleReceiveInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Inviter string `json:"inviter"`
		Invitee string `json:"invitee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.facade.Messages.ReceiveInvite(body.Inviter, body.Invitee, facade.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *PeerServer) handleGetFees(w http.ResponseWriter, r *http.Request) {
	fees, err := s.facade.Store.AllFees()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, fees)
}

func (s *PeerServer) handlePeerUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ip := body.IP
	if ip == "" {
		ip, _, _ = splitRemoteAddr(r.RemoteAddr)
	}
	if err := s.facade.Peers.Touch(ip, facade.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *PeerServer) handleNodeStats(w http.ResponseWriter, r *http.Request) {
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

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func splitRemoteAddr(addr string) (string, string, error) {
	host, port, err := net.SplitHostPort(addr)
	return host, port, err
}
