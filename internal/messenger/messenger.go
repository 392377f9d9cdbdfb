// Package messenger implements the point-to-point message log: fee-charged
// sends, peer-received inbound messages, conversations, and the invite/
// friends side-channel (§4.5).
package messenger

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ghostmesh/ghostnode/internal/ghosterr"
	"github.com/ghostmesh/ghostnode/internal/store"
	"github.com/ghostmesh/ghostnode/pkg/logging"
)

// Log owns the message store and friend relationships.
type Log struct {
	store *store.Store
	log   *logging.Logger
}

// New returns a Log backed by st.
func New(st *store.Store) *Log {
	return &Log{store: st, log: logging.GetDefault().Component("messenger")}
}

// Send charges msg_fee to sender and appends a message to the log (§4.5).
func (l *Log) Send(sender, recipient, content string, assetID string, now int64) (*store.Message, error) {
	msg := &store.Message{
		ID:         uuid.NewString(),
		Sender:     sender,
		Recipient:  recipient,
		Content:    content,
		Timestamp:  now,
		BlockIndex: 0,
	}
	if assetID != "" {
		msg.AssetID = sql.NullString{String: assetID, Valid: true}
	}

	err := l.store.WithTx(func(tx *sql.Tx) error {
		fee, err := store.GetFeeTx(tx, store.FeeMessage)
		if err != nil {
			return fmt.Errorf("read msg_fee: %w", err)
		}
		sw, err := store.GetWalletTx(tx, sender)
		if err != nil {
			if err == store.ErrNotFound {
				return ghosterr.New(ghosterr.NotFound, "sender wallet not found")
			}
			return err
		}
		if sw.Balance < fee {
			return ghosterr.New(ghosterr.InsufficientFunds, "insufficient balance for message fee")
		}
		if fee > 0 {
			if err := store.AdjustBalanceTx(tx, sender, -fee); err != nil {
				return fmt.Errorf("charge msg_fee: %w", err)
			}
		}
		if _, err := store.InsertMessageTx(tx, msg); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Receive records a message pushed or pulled from a peer, idempotent on
// ID: the fee was already charged by the originating node (§4.5, §5).
func (l *Log) Receive(m *store.Message) error {
	return l.store.WithTx(func(tx *sql.Tx) error {
		_, err := store.InsertMessageTx(tx, m)
		return err
	})
}

// Conversation returns every message between user and other, ordered by
// timestamp ascending.
func (l *Log) Conversation(user, other string) ([]store.Message, error) {
	return l.store.ConversationBetween(user, other)
}

// InviteNoticeContent is the fixed administrative message recorded for
// every invite, so an invite shows up in Conversation() the same way a
// Send does (§4.5: invite follows "the same contract" as send).
const InviteNoticeContent = "[friend invite sent]"

// Invite charges invite_fee to inviter, records a symmetric friend
// relationship between inviter and invitee, and logs an administrative
// message so the invite appears in both parties' conversation (§4.5
// supplemented feature).
func (l *Log) Invite(inviter, invitee string, now int64) error {
	return l.store.WithTx(func(tx *sql.Tx) error {
		fee, err := store.GetFeeTx(tx, store.FeeInvite)
		if err != nil {
			return fmt.Errorf("read invite_fee: %w", err)
		}
		iw, err := store.GetWalletTx(tx, inviter)
		if err != nil {
			if err == store.ErrNotFound {
				return ghosterr.New(ghosterr.NotFound, "inviter wallet not found")
			}
			return err
		}
		if iw.Balance < fee {
			return ghosterr.New(ghosterr.InsufficientFunds, "insufficient balance for invite fee")
		}
		if _, err := store.GetWalletTx(tx, invitee); err != nil {
			if err == store.ErrNotFound {
				return ghosterr.New(ghosterr.NotFound, "invitee wallet not found")
			}
			return err
		}
		if fee > 0 {
			if err := store.AdjustBalanceTx(tx, inviter, -fee); err != nil {
				return fmt.Errorf("charge invite_fee: %w", err)
			}
		}
		if err := store.AddFriendTx(tx, inviter, invitee, now); err != nil {
			return err
		}
		msg := &store.Message{
			ID:         uuid.NewString(),
			Sender:     inviter,
			Recipient:  invitee,
			Content:    InviteNoticeContent,
			Timestamp:  now,
			BlockIndex: 0,
		}
		if _, err := store.InsertMessageTx(tx, msg); err != nil {
			return fmt.Errorf("insert invite message: %w", err)
		}
		return nil
	})
}

// Friends returns every wallet ID that wallet has friended.
func (l *Log) Friends(wallet string) ([]string, error) {
	return l.store.ListFriends(wallet)
}

// ReceiveInvite records a friend relationship and invite notice learned
// from a peer, without charging invite_fee: the inviting node already
// charged its own user (§5 sync engine push paths).
func (l *Log) ReceiveInvite(inviter, invitee string, now int64) error {
	return l.store.WithTx(func(tx *sql.Tx) error {
		if err := store.AddFriendTx(tx, inviter, invitee, now); err != nil {
			return err
		}
		msg := &store.Message{
			ID:         uuid.NewString(),
			Sender:     inviter,
			Recipient:  invitee,
			Content:    InviteNoticeContent,
			Timestamp:  now,
			BlockIndex: 0,
		}
		_, err := store.InsertMessageTx(tx, msg)
		return err
	})
}
