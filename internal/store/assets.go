package store

import (
	"database/sql"
	"fmt"
)

// Asset is a row of the assets table (§3 Asset).
type Asset struct {
	ID        string
	Owner     string
	Type      string
	Name      string
	Content   []byte
	Size      int64
	CreatedAt int64
	ExpiryAt  int64
	Keywords  string // comma-joined, empty for non-domain types
}

// InsertAssetTx inserts an asset within an existing transaction.
func InsertAssetTx(tx *sql.Tx, a *Asset) (inserted bool, err error) {
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO assets (id, owner, type, name, content, size, created_at, expiry_at, keywords) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Owner, a.Type, a.Name, a.Content, a.Size, a.CreatedAt, a.ExpiryAt, a.Keywords,
	)
	if err != nil {
		return false, fmt.Errorf("insert asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert asset rows affected: %w", err)
	}
	return n > 0, nil
}

// GetAsset looks up an asset by UUID.
func (s *Store) GetAsset(id string) (*Asset, error) {
	row := s.db.QueryRow(
		`SELECT id, owner, type, name, content, size, created_at, expiry_at, keywords FROM assets WHERE id = ?`, id)
	return scanAsset(row)
}

// FindActiveDomain returns the asset with the given domain name whose
// expiry is still in the future, or ErrNotFound if none exists.
func (s *Store) FindActiveDomain(name string, now int64) (*Asset, error) {
	row := s.db.QueryRow(
		`SELECT id, owner, type, name, content, size, created_at, expiry_at, keywords FROM assets WHERE type = 'domain' AND name = ? AND expiry_at > ? LIMIT 1`,
		name, now,
	)
	return scanAsset(row)
}

// UpdateAssetContentTx replaces a domain's content and keywords, preserving
// ID, creation time, expiry time, and type.
func UpdateAssetContentTx(tx *sql.Tx, id string, content []byte, size int64, keywords string) error {
	res, err := tx.Exec(`UPDATE assets SET content = ?, size = ?, keywords = ? WHERE id = ?`, content, size, keywords, id)
	if err != nil {
		return fmt.Errorf("update asset content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update asset content rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAsset hard-deletes an asset.
func (s *Store) DeleteAsset(id string) error {
	res, err := s.db.Exec(`DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete asset rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchAssets performs a case-insensitive substring match on name or
// keyword list.
func (s *Store) SearchAssets(query string) ([]Asset, error) {
	like := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT id, owner, type, name, content, size, created_at, expiry_at, keywords FROM assets
		 WHERE name LIKE ? COLLATE NOCASE OR keywords LIKE ? COLLATE NOCASE`,
		like, like,
	)
	if err != nil {
		return nil, fmt.Errorf("search assets: %w", err)
	}
	defer rows.Close()
	return scanAssets(rows)
}

// AllAssetIDs returns every asset UUID, for sync's asset-metadata pull.
func (s *Store) AllAssetIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("query asset ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan asset id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllAssets returns every asset, for longest-chain wholesale replacement.
func (s *Store) AllAssets() ([]Asset, error) {
	rows, err := s.db.Query(`SELECT id, owner, type, name, content, size, created_at, expiry_at, keywords FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()
	return scanAssets(rows)
}

// DeleteAllAssetsTx removes every asset, for longest-chain wholesale
// replacement.
func DeleteAllAssetsTx(tx *sql.Tx) error {
	_, err := tx.Exec(`DELETE FROM assets`)
	if err != nil {
		return fmt.Errorf("delete assets: %w", err)
	}
	return nil
}

func scanAssets(rows *sql.Rows) ([]Asset, error) {
	var out []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.Owner, &a.Type, &a.Name, &a.Content, &a.Size, &a.CreatedAt, &a.ExpiryAt, &a.Keywords); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAsset(row *sql.Row) (*Asset, error) {
	var a Asset
	err := row.Scan(&a.ID, &a.Owner, &a.Type, &a.Name, &a.Content, &a.Size, &a.CreatedAt, &a.ExpiryAt, &a.Keywords)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan asset: %w", err)
	}
	return &a, nil
}
