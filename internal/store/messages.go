package store

import (
	"database/sql"
	"fmt"
)

// Message is a row of the messages table (§3 Message).
type Message struct {
	ID         string
	Sender     string
	Recipient  string
	Content    string // payload stored as given; it is not base64-encoded
	AssetID    sql.NullString
	Timestamp  int64
	BlockIndex int64
}

// InsertMessageTx inserts a message within an existing transaction.
// Idempotent on ID.
func InsertMessageTx(tx *sql.Tx, m *Message) (inserted bool, err error) {
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO messages (id, sender, recipient, content, asset_id, timestamp, block_index) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Sender, m.Recipient, m.Content, m.AssetID, m.Timestamp, m.BlockIndex,
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message rows affected: %w", err)
	}
	return n > 0, nil
}

// ConversationBetween returns every message between user and other in
// either direction, ordered by timestamp ascending.
func (s *Store) ConversationBetween(user, other string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, recipient, content, asset_id, timestamp, block_index FROM messages
		 WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		 ORDER BY timestamp ASC`,
		user, other, other, user,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Content, &m.AssetID, &m.Timestamp, &m.BlockIndex); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddFriendTx records a symmetric friend relationship within an existing
// transaction (supplemented feature: invite side effect).
func AddFriendTx(tx *sql.Tx, a, b string, now int64) error {
	pairs := [][2]string{{a, b}, {b, a}}
	for _, p := range pairs {
		_, err := tx.Exec(`INSERT OR IGNORE INTO friends (wallet_a, wallet_b, created_at) VALUES (?, ?, ?)`, p[0], p[1], now)
		if err != nil {
			return fmt.Errorf("insert friend: %w", err)
		}
	}
	return nil
}

// ListFriends returns every wallet ID that wallet has friended.
func (s *Store) ListFriends(wallet string) ([]string, error) {
	rows, err := s.db.Query(`SELECT wallet_b FROM friends WHERE wallet_a = ?`, wallet)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
