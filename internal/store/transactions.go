package store

import (
	"database/sql"
	"fmt"
)

// Transaction is a row of the transactions table (§3 Transaction).
type Transaction struct {
	ID         string
	Sender     string
	Recipient  string
	Amount     float64
	Timestamp  int64
	BlockIndex int64
}

// InsertTransactionTx inserts a transaction within an existing transaction.
// Idempotent on ID: a duplicate insert is a no-op, matching
// receive_transaction's "deduplicate on UUID" contract.
func InsertTransactionTx(tx *sql.Tx, t *Transaction) (inserted bool, err error) {
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO transactions (id, sender, recipient, amount, timestamp, block_index) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Sender, t.Recipient, t.Amount, t.Timestamp, t.BlockIndex,
	)
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert transaction rows affected: %w", err)
	}
	return n > 0, nil
}

// GetTransaction looks up a transaction by ID.
func (s *Store) GetTransaction(id string) (*Transaction, error) {
	row := s.db.QueryRow(
		`SELECT id, sender, recipient, amount, timestamp, block_index FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

// MempoolTx returns every transaction currently at block_index 0 within an
// existing transaction, so a mine/accept commit observes a consistent
// mempool snapshot.
func MempoolTx(tx *sql.Tx) ([]Transaction, error) {
	rows, err := tx.Query(`SELECT id, sender, recipient, amount, timestamp, block_index FROM transactions WHERE block_index = 0`)
	if err != nil {
		return nil, fmt.Errorf("query mempool: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Sender, &t.Recipient, &t.Amount, &t.Timestamp, &t.BlockIndex); err != nil {
			return nil, fmt.Errorf("scan mempool transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ConfirmTransactionTx sets a transaction's block_index from 0 to
// blockIndex, within an existing transaction.
func ConfirmTransactionTx(tx *sql.Tx, id string, blockIndex int64) error {
	_, err := tx.Exec(`UPDATE transactions SET block_index = ? WHERE id = ? AND block_index = 0`, blockIndex, id)
	if err != nil {
		return fmt.Errorf("confirm transaction: %w", err)
	}
	return nil
}

// SumCoinbaseUpTo returns the sum of coinbase transaction amounts with
// block_index <= height.
func (s *Store) SumCoinbaseUpTo(height int64) (float64, error) {
	var sum sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT SUM(amount) FROM transactions WHERE sender = 'GhostProtocol_System' AND block_index > 0 AND block_index <= ?`,
		height,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum coinbase: %w", err)
	}
	return sum.Float64, nil
}

// SumAllCoinbase returns the sum of every coinbase transaction's amount.
func (s *Store) SumAllCoinbase() (float64, error) {
	var sum sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT SUM(amount) FROM transactions WHERE sender = 'GhostProtocol_System'`,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum coinbase: %w", err)
	}
	return sum.Float64, nil
}

// AllTransactionsOrdered returns every transaction ordered by timestamp
// ascending, for longest-chain balance replay.
func (s *Store) AllTransactionsOrdered() ([]Transaction, error) {
	rows, err := s.db.Query(`SELECT id, sender, recipient, amount, timestamp, block_index FROM transactions ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Sender, &t.Recipient, &t.Amount, &t.Timestamp, &t.BlockIndex); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteAllTransactionsTx removes every transaction, for longest-chain
// wholesale replacement.
func DeleteAllTransactionsTx(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM transactions`)
	if err != nil {
		return fmt.Errorf("delete transactions: %w", err)
	}
	return nil
}

func scanTransaction(row *sql.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.Sender, &t.Recipient, &t.Amount, &t.Timestamp, &t.BlockIndex)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}
