package store

import (
	"database/sql"
	"fmt"
)

// Contract is a row of the contracts table (§3 Contract).
type Contract struct {
	Address   string
	Owner     string
	Source    string
	State     string // JSON
	CreatedAt int64
}

// InsertContractTx inserts a contract within an existing transaction.
func InsertContractTx(tx *sql.Tx, c *Contract) (inserted bool, err error) {
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO contracts (address, owner, source, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.Address, c.Owner, c.Source, c.State, c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert contract: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert contract rows affected: %w", err)
	}
	return n > 0, nil
}

// GetContract looks up a contract by address.
func (s *Store) GetContract(address string) (*Contract, error) {
	row := s.db.QueryRow(`SELECT address, owner, source, state, created_at FROM contracts WHERE address = ?`, address)
	return scanContract(row)
}

// GetContractTx is the transactional variant, used by Call so the state
// read and the subsequent state write are atomic with the fee charge.
func GetContractTx(tx *sql.Tx, address string) (*Contract, error) {
	row := tx.QueryRow(`SELECT address, owner, source, state, created_at FROM contracts WHERE address = ?`, address)
	return scanContractRow(row)
}

// UpdateContractStateTx persists a new state JSON for a contract.
func UpdateContractStateTx(tx *sql.Tx, address, state string) error {
	res, err := tx.Exec(`UPDATE contracts SET state = ? WHERE address = ?`, state, address)
	if err != nil {
		return fmt.Errorf("update contract state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update contract state rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanContract(row *sql.Row) (*Contract, error) {
	return scanContractRow(row)
}

func scanContractRow(row interface {
	Scan(dest ...interface{}) error
}) (*Contract, error) {
	var c Contract
	err := row.Scan(&c.Address, &c.Owner, &c.Source, &c.State, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contract: %w", err)
	}
	return &c, nil
}
