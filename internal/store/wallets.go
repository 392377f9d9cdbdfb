package store

import (
	"database/sql"
	"fmt"
)

// Wallet is a row of the wallets table (§3 User/Wallet).
type Wallet struct {
	WalletID     string
	Username     string
	PasswordHash string
	Balance      float64
	LastMined    int64
}

// CreateWallet inserts a new wallet. Returns ErrDuplicateKey if the wallet
// ID or username already exists.
func (s *Store) CreateWallet(w *Wallet) error {
	_, err := s.db.Exec(
		`INSERT INTO wallets (wallet_id, username, password_hash, balance, last_mined) VALUES (?, ?, ?, ?, ?)`,
		w.WalletID, w.Username, w.PasswordHash, w.Balance, w.LastMined,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetWalletByID looks up a wallet by its wallet_id.
func (s *Store) GetWalletByID(walletID string) (*Wallet, error) {
	return s.scanWallet(s.db.QueryRow(
		`SELECT wallet_id, username, password_hash, balance, last_mined FROM wallets WHERE wallet_id = ?`, walletID))
}

// GetWalletByUsername looks up a wallet by its username.
func (s *Store) GetWalletByUsername(username string) (*Wallet, error) {
	return s.scanWallet(s.db.QueryRow(
		`SELECT wallet_id, username, password_hash, balance, last_mined FROM wallets WHERE username = ?`, username))
}

func (s *Store) scanWallet(row *sql.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.WalletID, &w.Username, &w.PasswordHash, &w.Balance, &w.LastMined)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}

// AllWalletIDs returns every wallet ID known to this node, used to reset
// balances before a longest-chain replay.
func (s *Store) AllWalletIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT wallet_id FROM wallets`)
	if err != nil {
		return nil, fmt.Errorf("query wallet ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan wallet id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AdjustBalanceTx credits (positive delta) or debits (negative delta) a
// wallet's balance within an existing transaction. Callers are responsible
// for checking sufficiency before debiting.
func AdjustBalanceTx(tx *sql.Tx, walletID string, delta float64) error {
	res, err := tx.Exec(`UPDATE wallets SET balance = balance + ? WHERE wallet_id = ?`, delta, walletID)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust balance rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLastMinedTx sets a wallet's last_mined timestamp within an existing
// transaction.
func SetLastMinedTx(tx *sql.Tx, walletID string, ts int64) error {
	_, err := tx.Exec(`UPDATE wallets SET last_mined = ? WHERE wallet_id = ?`, ts, walletID)
	if err != nil {
		return fmt.Errorf("set last_mined: %w", err)
	}
	return nil
}

// GetWalletTx reads a wallet within an existing transaction, so the caller
// observes a consistent snapshot with subsequent writes in the same
// transaction.
func GetWalletTx(tx *sql.Tx, walletID string) (*Wallet, error) {
	var w Wallet
	err := tx.QueryRow(
		`SELECT wallet_id, username, password_hash, balance, last_mined FROM wallets WHERE wallet_id = ?`, walletID,
	).Scan(&w.WalletID, &w.Username, &w.PasswordHash, &w.Balance, &w.LastMined)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}
