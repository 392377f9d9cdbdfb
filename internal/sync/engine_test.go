package sync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ghostmesh/ghostnode/internal/assets"
	"github.com/ghostmesh/ghostnode/internal/ledger"
	"github.com/ghostmesh/ghostnode/internal/peers"
	"github.com/ghostmesh/ghostnode/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *ledger.Ledger) {
	t.Helper()
	dir, err := os.MkdirTemp("", "ghostnode-sync-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := store.New(&store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.SeedFees(store.DefaultFees()); err != nil {
		t.Fatalf("SeedFees: %v", err)
	}

	led, err := ledger.New(st)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	assetRegistry := assets.New(st)
	peerSet := peers.New(st, nil)

	return New(led, assetRegistry, peerSet, st), st, led
}

func TestSyncChainSkipsWhenNotAhead(t *testing.T) {
	e, _, led := newTestEngine(t)

	last, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/chain_meta" {
			json.NewEncoder(w).Encode(ChainMeta{Height: last.Index, LastHash: last.BlockHash})
			return
		}
		t.Errorf("unexpected request to %s when peer isn't ahead", r.URL.Path)
	}))
	defer server.Close()

	addr := strings.TrimPrefix(server.URL, "http://")
	if err := e.syncChain(addr); err != nil {
		t.Fatalf("syncChain: %v", err)
	}
}

func TestSyncChainAcceptsNewBlocks(t *testing.T) {
	e, _, led := newTestEngine(t)

	last, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}

	hash, err := ledger.ComputeBlockHash(ledger.Difficulty(0), 2000, last.BlockHash, 1, "peer-miner")
	if err != nil {
		t.Fatalf("ComputeBlockHash: %v", err)
	}
	newBlock := BlockDTO{
		Index:        last.Index + 1,
		Timestamp:    2000,
		PreviousHash: last.BlockHash,
		BlockHash:    hash,
		Proof:        1,
		Miner:        "peer-miner",
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chain_meta":
			json.NewEncoder(w).Encode(ChainMeta{Height: newBlock.Index, LastHash: newBlock.BlockHash})
		case "/chain":
			json.NewEncoder(w).Encode([]BlockDTO{
				{Index: last.Index, Timestamp: last.Timestamp, PreviousHash: last.PreviousHash, BlockHash: last.BlockHash, Proof: last.Proof, Miner: last.Miner},
				newBlock,
			})
		case "/api/transactions":
			json.NewEncoder(w).Encode([]store.Transaction{
				{ID: "coinbase-1", Sender: ledger.CoinbaseSender, Recipient: "peer-miner", Amount: ledger.RewardAtHeight(newBlock.Index), Timestamp: 2000, BlockIndex: newBlock.Index},
			})
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
	}))
	defer server.Close()

	addr := strings.TrimPrefix(server.URL, "http://")
	if err := e.syncChain(addr); err != nil {
		t.Fatalf("syncChain: %v", err)
	}

	got, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	if got.BlockHash != newBlock.BlockHash {
		t.Errorf("expected the new block to be adopted, got tip hash %q", got.BlockHash)
	}

	miner, err := e.store.GetWalletByID("peer-miner")
	if err == nil && miner.Balance != ledger.RewardAtHeight(newBlock.Index) {
		t.Errorf("expected peer-miner credited the coinbase reward, got %v", miner.Balance)
	}
}

func TestSyncChainAdoptsDivergedLongerChain(t *testing.T) {
	e, st, led := newTestEngine(t)

	if err := st.CreateWallet(&store.Wallet{WalletID: "alice", Username: "alice", PasswordHash: "x", Balance: 0}); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	genesis, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}

	// Fabricate a conflicting block at the same index as one we already
	// hold, so the local insert fails and the engine must adopt wholesale.
	divergentBlock := BlockDTO{
		Index:        genesis.Index + 1,
		Timestamp:    3000,
		PreviousHash: genesis.BlockHash,
		BlockHash:    "peer-diverged-hash",
		Proof:        99,
		Miner:        "alice",
	}
	if _, err := led.Mine("alice", 0, 1000); err != nil {
		t.Fatalf("Mine: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chain_meta":
			json.NewEncoder(w).Encode(ChainMeta{Height: divergentBlock.Index + 1, LastHash: "something-further"})
		case "/chain":
			json.NewEncoder(w).Encode([]BlockDTO{
				{Index: genesis.Index, Timestamp: genesis.Timestamp, PreviousHash: genesis.PreviousHash, BlockHash: genesis.BlockHash, Proof: genesis.Proof, Miner: genesis.Miner},
				divergentBlock,
			})
		case "/api/transactions":
			json.NewEncoder(w).Encode([]store.Transaction{
				{ID: "replay-1", Sender: ledger.CoinbaseSender, Recipient: "alice", Amount: 50, Timestamp: 3000, BlockIndex: divergentBlock.Index},
			})
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
	}))
	defer server.Close()

	addr := strings.TrimPrefix(server.URL, "http://")
	if err := e.syncChain(addr); err != nil {
		t.Fatalf("syncChain: %v", err)
	}

	got, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	if got.BlockHash != divergentBlock.BlockHash {
		t.Errorf("expected wholesale adoption of the peer's chain, tip is %q", got.BlockHash)
	}

	alice, err := st.GetWalletByID("alice")
	if err != nil {
		t.Fatalf("GetWalletByID: %v", err)
	}
	if alice.Balance != 50 {
		t.Errorf("expected balance rebuilt via transaction replay to 50, got %v", alice.Balance)
	}
}

func TestSyncFeesUpdatesLocalSchedule(t *testing.T) {
	e, st, _ := newTestEngine(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"msg_fee": 0.5})
	}))
	defer server.Close()

	addr := strings.TrimPrefix(server.URL, "http://")
	if err := e.syncFees(addr); err != nil {
		t.Fatalf("syncFees: %v", err)
	}

	fee, err := st.GetFee(store.FeeMessage)
	if err != nil {
		t.Fatalf("GetFee: %v", err)
	}
	if fee != 0.5 {
		t.Errorf("expected msg_fee updated to 0.5, got %v", fee)
	}
}
