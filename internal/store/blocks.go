package store

import (
	"database/sql"
	"fmt"
)

// Block is a row of the blocks table (§3 Block).
type Block struct {
	Index        int64
	Timestamp    int64
	PreviousHash string
	BlockHash    string
	Proof        int64
	Miner        string
}

// InsertBlockTx inserts a block within an existing transaction. Idempotent:
// if the index already exists, it is treated as a no-op success and
// inserted is false (Ledger.AcceptPeerBlock uses that flag to tell "new"
// from "already present").
func InsertBlockTx(tx *sql.Tx, b *Block) (inserted bool, err error) {
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO blocks (block_index, timestamp, previous_hash, block_hash, proof, miner) VALUES (?, ?, ?, ?, ?, ?)`,
		b.Index, b.Timestamp, b.PreviousHash, b.BlockHash, b.Proof, b.Miner,
	)
	if err != nil {
		return false, fmt.Errorf("insert block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert block rows affected: %w", err)
	}
	return n > 0, nil
}

// GetLastBlock returns the block with the maximum index, or ErrNotFound if
// the chain is empty.
func (s *Store) GetLastBlock() (*Block, error) {
	row := s.db.QueryRow(
		`SELECT block_index, timestamp, previous_hash, block_hash, proof, miner FROM blocks ORDER BY block_index DESC LIMIT 1`)
	return scanBlock(row)
}

// GetLastBlockTx is the transactional variant, used inside mine/accept to
// observe a consistent snapshot.
func GetLastBlockTx(tx *sql.Tx) (*Block, error) {
	row := tx.QueryRow(
		`SELECT block_index, timestamp, previous_hash, block_hash, proof, miner FROM blocks ORDER BY block_index DESC LIMIT 1`)
	return scanBlock(row)
}

// GetBlockByIndexTx returns the block at index within an existing
// transaction, used by AcceptPeerBlock to tell a genuine conflict (same
// index, different hash) from a harmless re-delivery of a block we
// already hold.
func GetBlockByIndexTx(tx *sql.Tx, index int64) (*Block, error) {
	row := tx.QueryRow(
		`SELECT block_index, timestamp, previous_hash, block_hash, proof, miner FROM blocks WHERE block_index = ?`, index)
	return scanBlock(row)
}

// GetBlockByHash returns the full block record for a given hash.
func (s *Store) GetBlockByHash(hash string) (*Block, error) {
	row := s.db.QueryRow(
		`SELECT block_index, timestamp, previous_hash, block_hash, proof, miner FROM blocks WHERE block_hash = ?`, hash)
	return scanBlock(row)
}

// BlockCount returns the number of blocks in the chain.
func (s *Store) BlockCount() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count blocks: %w", err)
	}
	return n, nil
}

// Headers returns (index, hash) pairs for every block, ordered by index
// ascending.
func (s *Store) Headers() ([]Block, error) {
	rows, err := s.db.Query(`SELECT block_index, block_hash FROM blocks ORDER BY block_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("query headers: %w", err)
	}
	defer rows.Close()

	var out []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.Index, &b.BlockHash); err != nil {
			return nil, fmt.Errorf("scan header: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AllBlocks returns every block ordered by index ascending.
func (s *Store) AllBlocks() ([]Block, error) {
	rows, err := s.db.Query(`SELECT block_index, timestamp, previous_hash, block_hash, proof, miner FROM blocks ORDER BY block_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var out []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.Index, &b.Timestamp, &b.PreviousHash, &b.BlockHash, &b.Proof, &b.Miner); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBlocksAboveTx deletes every block with index > minIndex, for
// longest-chain wholesale replacement.
func DeleteBlocksAboveTx(tx *sql.Tx, minIndex int64) error {
	_, err := tx.Exec(`DELETE FROM blocks WHERE block_index > ?`, minIndex)
	if err != nil {
		return fmt.Errorf("delete blocks above %d: %w", minIndex, err)
	}
	return nil
}

func scanBlock(row *sql.Row) (*Block, error) {
	var b Block
	err := row.Scan(&b.Index, &b.Timestamp, &b.PreviousHash, &b.BlockHash, &b.Proof, &b.Miner)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan block: %w", err)
	}
	return &b, nil
}
