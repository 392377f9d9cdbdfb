package ledger

import (
	"database/sql"
	"os"
	"testing"

	"github.com/ghostmesh/ghostnode/internal/ghosterr"
	"github.com/ghostmesh/ghostnode/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "ghostnode-ledger-*")
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
	return st
}

func createWallet(t *testing.T, st *store.Store, id string, balance float64) {
	t.Helper()
	if err := st.CreateWallet(&store.Wallet{WalletID: id, Username: id, PasswordHash: "x", Balance: balance}); err != nil {
		t.Fatalf("CreateWallet(%s): %v", id, err)
	}
}

func TestNewCreatesGenesisBlock(t *testing.T) {
	st := newTestStore(t)
	led, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	last, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	if last.Index != GenesisIndex {
		t.Errorf("expected genesis index %d, got %d", GenesisIndex, last.Index)
	}
	if last.PreviousHash != GenesisPreviousHash {
		t.Errorf("expected genesis previous hash %q, got %q", GenesisPreviousHash, last.PreviousHash)
	}
}

func TestNewIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	if _, err := New(st); err != nil {
		t.Fatalf("first New: %v", err)
	}
	led, err := New(st)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	last, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	if last.Index != GenesisIndex {
		t.Fatalf("re-running New produced a second genesis block at index %d", last.Index)
	}
}

func TestMineCreditsRewardAndConfirmsMempool(t *testing.T) {
	st := newTestStore(t)
	led, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	createWallet(t, st, "miner", 0)
	createWallet(t, st, "alice", 100)
	createWallet(t, st, "bob", 0)

	if _, err := led.Transfer("alice", "bob", 10, 1000); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	block, err := led.Mine("miner", 0, 2000)
	if err != nil {
		t.Fatalf("Mine: %v", err)
	}
	if block.Index != GenesisIndex+1 {
		t.Errorf("expected block index %d, got %d", GenesisIndex+1, block.Index)
	}

	minerWallet, err := st.GetWalletByID("miner")
	if err != nil {
		t.Fatalf("GetWalletByID(miner): %v", err)
	}
	if minerWallet.Balance != RewardAtHeight(block.Index) {
		t.Errorf("expected miner balance %v, got %v", RewardAtHeight(block.Index), minerWallet.Balance)
	}

	txn, err := st.GetTransaction(mustMempoolTransactionID(t, st))
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if txn.BlockIndex != block.Index {
		t.Errorf("expected the transfer to be confirmed into block %d, got %d", block.Index, txn.BlockIndex)
	}
}

func mustMempoolTransactionID(t *testing.T, st *store.Store) string {
	t.Helper()
	txns, err := st.AllTransactionsOrdered()
	if err != nil {
		t.Fatalf("AllTransactionsOrdered: %v", err)
	}
	for _, txn := range txns {
		if txn.Sender == "alice" {
			return txn.ID
		}
	}
	t.Fatalf("no alice transaction found")
	return ""
}

func TestMineEnforcesCooldown(t *testing.T) {
	st := newTestStore(t)
	led, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	createWallet(t, st, "miner", 0)

	if _, err := led.Mine("miner", 0, 1000); err != nil {
		t.Fatalf("first Mine: %v", err)
	}
	_, err = led.Mine("miner", 0, 1000+MiningCooldownSeconds-1)
	if !ghosterr.Is(err, ghosterr.CooldownActive) {
		t.Fatalf("expected CooldownActive, got %v", err)
	}
	if _, err := led.Mine("miner", 0, 1000+MiningCooldownSeconds); err != nil {
		t.Fatalf("Mine after cooldown elapsed: %v", err)
	}
}

func TestTransferRejectsInsufficientFunds(t *testing.T) {
	st := newTestStore(t)
	led, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	createWallet(t, st, "alice", 5)
	createWallet(t, st, "bob", 0)

	_, err = led.Transfer("alice", "bob", 10, 1000)
	if !ghosterr.Is(err, ghosterr.InsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
}

func TestTransferRejectsSelfAndNonPositive(t *testing.T) {
	st := newTestStore(t)
	led, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	createWallet(t, st, "alice", 100)

	if _, err := led.Transfer("alice", "alice", 1, 1000); !ghosterr.Is(err, ghosterr.SelfTransfer) {
		t.Fatalf("expected SelfTransfer, got %v", err)
	}
	if _, err := led.Transfer("alice", "bob", 0, 1000); !ghosterr.Is(err, ghosterr.NonPositiveAmount) {
		t.Fatalf("expected NonPositiveAmount, got %v", err)
	}
	if _, err := led.Transfer("alice", "bob", -5, 1000); !ghosterr.Is(err, ghosterr.NonPositiveAmount) {
		t.Fatalf("expected NonPositiveAmount, got %v", err)
	}
}

func TestReceiveTransactionIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	led, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	createWallet(t, st, "alice", 0)

	txn := &store.Transaction{ID: "peer-txn-1", Sender: CoinbaseSender, Recipient: "alice", Amount: 50, Timestamp: 1000}
	if err := led.ReceiveTransaction(txn); err != nil {
		t.Fatalf("first ReceiveTransaction: %v", err)
	}
	if err := led.ReceiveTransaction(txn); err != nil {
		t.Fatalf("second ReceiveTransaction: %v", err)
	}

	alice, err := st.GetWalletByID("alice")
	if err != nil {
		t.Fatalf("GetWalletByID: %v", err)
	}
	if alice.Balance != 50 {
		t.Fatalf("expected balance 50 after duplicate receive, got %v (double-applied)", alice.Balance)
	}
}

func TestAcceptPeerBlockCreditsCoinbaseAndConfirmsMempool(t *testing.T) {
	st := newTestStore(t)
	led, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	createWallet(t, st, "alice", 100)
	createWallet(t, st, "bob", 0)
	createWallet(t, st, "peer-miner", 0)

	mempoolTxn := &store.Transaction{ID: "mempool-1", Sender: "alice", Recipient: "bob", Amount: 10, Timestamp: 1000, BlockIndex: 0}
	if err := st.WithTx(func(tx *sql.Tx) error {
		_, err := store.InsertTransactionTx(tx, mempoolTxn)
		return err
	}); err != nil {
		t.Fatalf("insert mempool transaction: %v", err)
	}

	genesis, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	newIndex := genesis.Index + 1
	block := &store.Block{Index: newIndex, Timestamp: 2000, PreviousHash: genesis.BlockHash, BlockHash: "peer-block-hash", Proof: 7, Miner: "peer-miner"}
	coinbase := &store.Transaction{ID: "coinbase-1", Sender: CoinbaseSender, Recipient: "peer-miner", Amount: RewardAtHeight(newIndex), Timestamp: 2000, BlockIndex: newIndex}

	if err := led.AcceptPeerBlock(block, coinbase, []string{mempoolTxn.ID}); err != nil {
		t.Fatalf("AcceptPeerBlock: %v", err)
	}

	miner, err := st.GetWalletByID("peer-miner")
	if err != nil {
		t.Fatalf("GetWalletByID(peer-miner): %v", err)
	}
	if miner.Balance != RewardAtHeight(newIndex) {
		t.Errorf("expected peer miner to be credited the coinbase reward %v, got %v", RewardAtHeight(newIndex), miner.Balance)
	}

	confirmed, err := st.GetTransaction(mempoolTxn.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if confirmed.BlockIndex != newIndex {
		t.Errorf("expected mempool transaction confirmed into block %d, got %d", newIndex, confirmed.BlockIndex)
	}

	supply, err := st.SumAllCoinbase()
	if err != nil {
		t.Fatalf("SumAllCoinbase: %v", err)
	}
	if supply != RewardAtHeight(newIndex) {
		t.Errorf("expected total coinbase supply %v after accepting the peer block, got %v", RewardAtHeight(newIndex), supply)
	}
}

func TestAcceptPeerBlockIsIdempotentOnRedelivery(t *testing.T) {
	st := newTestStore(t)
	led, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	createWallet(t, st, "peer-miner", 0)

	genesis, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	newIndex := genesis.Index + 1
	block := &store.Block{Index: newIndex, Timestamp: 2000, PreviousHash: genesis.BlockHash, BlockHash: "peer-block-hash", Proof: 7, Miner: "peer-miner"}
	coinbase := &store.Transaction{ID: "coinbase-1", Sender: CoinbaseSender, Recipient: "peer-miner", Amount: RewardAtHeight(newIndex), Timestamp: 2000, BlockIndex: newIndex}

	if err := led.AcceptPeerBlock(block, coinbase, nil); err != nil {
		t.Fatalf("first AcceptPeerBlock: %v", err)
	}
	if err := led.AcceptPeerBlock(block, coinbase, nil); err != nil {
		t.Fatalf("re-delivering the same block should be a no-op, got: %v", err)
	}

	miner, err := st.GetWalletByID("peer-miner")
	if err != nil {
		t.Fatalf("GetWalletByID(peer-miner): %v", err)
	}
	if miner.Balance != RewardAtHeight(newIndex) {
		t.Errorf("expected the coinbase reward credited exactly once, got balance %v", miner.Balance)
	}
}

func TestAcceptPeerBlockDetectsDivergence(t *testing.T) {
	st := newTestStore(t)
	led, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	createWallet(t, st, "miner", 0)

	if _, err := led.Mine("miner", 0, 1000); err != nil {
		t.Fatalf("Mine: %v", err)
	}

	genesis := &store.Block{Index: GenesisIndex, Timestamp: GenesisTimestamp, PreviousHash: GenesisPreviousHash, BlockHash: "", Proof: GenesisProof, Miner: GenesisMiner}
	forked := &store.Block{Index: genesis.Index + 1, Timestamp: 1500, PreviousHash: "different-parent", BlockHash: "a-different-fork-hash", Proof: 1, Miner: "someone-else"}

	if err := led.AcceptPeerBlock(forked, nil, nil); err == nil {
		t.Fatalf("expected an error accepting a block that diverges from the one already held at that index")
	}
}

func TestReplaceChainReplaysBalances(t *testing.T) {
	st := newTestStore(t)
	led, err := New(st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	createWallet(t, st, "alice", 0)
	createWallet(t, st, "bob", 0)

	genesis, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}

	blocks := []store.Block{*genesis, {Index: genesis.Index + 1, Timestamp: 2000, PreviousHash: genesis.BlockHash, BlockHash: "swapped-in-hash", Proof: 1, Miner: "bob"}}
	txns := []store.Transaction{
		{ID: "tx-1", Sender: CoinbaseSender, Recipient: "bob", Amount: 50, Timestamp: 2000, BlockIndex: genesis.Index + 1},
		{ID: "tx-2", Sender: "bob", Recipient: "alice", Amount: 20, Timestamp: 2001, BlockIndex: 0},
	}

	if err := led.ReplaceChain(blocks, txns, []string{"alice", "bob"}); err != nil {
		t.Fatalf("ReplaceChain: %v", err)
	}

	alice, err := st.GetWalletByID("alice")
	if err != nil {
		t.Fatalf("GetWalletByID(alice): %v", err)
	}
	bob, err := st.GetWalletByID("bob")
	if err != nil {
		t.Fatalf("GetWalletByID(bob): %v", err)
	}
	if alice.Balance != 20 {
		t.Errorf("expected alice balance 20 after replay, got %v", alice.Balance)
	}
	if bob.Balance != 30 {
		t.Errorf("expected bob balance 30 after replay, got %v", bob.Balance)
	}

	last, err := led.GetLastBlock()
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	if last.BlockHash != "swapped-in-hash" {
		t.Errorf("expected the swapped-in chain tip, got %q", last.BlockHash)
	}
}
