package store

import (
	"database/sql"
	"fmt"
)

// FeeKind enumerates the spec's fee schedule entries (§3 Fee Schedule).
type FeeKind string

const (
	FeeDomainReg      FeeKind = "domain_reg"
	FeeStorageMB      FeeKind = "storage_mb"
	FeeMessage        FeeKind = "msg_fee"
	FeeInvite         FeeKind = "invite_fee"
	FeeContractDeploy FeeKind = "contract_deploy"
	FeeContractCall   FeeKind = "contract_call"
)

// DefaultFees are the configured defaults the schedule is seeded from.
func DefaultFees() map[FeeKind]float64 {
	return map[FeeKind]float64{
		FeeDomainReg:      1.0,
		FeeStorageMB:      0.01,
		FeeMessage:        0.01,
		FeeInvite:         0.01,
		FeeContractDeploy: 0.5,
		FeeContractCall:   0.01,
	}
}

// SeedFees inserts every default that is not already present, leaving any
// previously-synced override untouched.
func (s *Store) SeedFees(defaults map[FeeKind]float64) error {
	for kind, amount := range defaults {
		_, err := s.db.Exec(`INSERT OR IGNORE INTO fees (kind, amount) VALUES (?, ?)`, string(kind), amount)
		if err != nil {
			return fmt.Errorf("seed fee %s: %w", kind, err)
		}
	}
	return nil
}

// GetFee returns the current amount for a fee kind.
func (s *Store) GetFee(kind FeeKind) (float64, error) {
	var amount float64
	err := s.db.QueryRow(`SELECT amount FROM fees WHERE kind = ?`, string(kind)).Scan(&amount)
	if err != nil {
		return 0, fmt.Errorf("get fee %s: %w", kind, err)
	}
	return amount, nil
}

// GetFeeTx is the transactional variant, used when a fee charge must read
// the current amount atomically with debiting it.
func GetFeeTx(tx *sql.Tx, kind FeeKind) (float64, error) {
	var amount float64
	err := tx.QueryRow(`SELECT amount FROM fees WHERE kind = ?`, string(kind)).Scan(&amount)
	if err != nil {
		return 0, fmt.Errorf("get fee %s: %w", kind, err)
	}
	return amount, nil
}

// AllFees returns the full current schedule.
func (s *Store) AllFees() (map[string]float64, error) {
	rows, err := s.db.Query(`SELECT kind, amount FROM fees`)
	if err != nil {
		return nil, fmt.Errorf("query fees: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var kind string
		var amount float64
		if err := rows.Scan(&kind, &amount); err != nil {
			return nil, fmt.Errorf("scan fee: %w", err)
		}
		out[kind] = amount
	}
	return out, rows.Err()
}

// UpsertFee overwrites a single fee entry, used by sync's fee-schedule
// refresh.
func (s *Store) UpsertFee(kind string, amount float64) error {
	_, err := s.db.Exec(
		`INSERT INTO fees (kind, amount) VALUES (?, ?) ON CONFLICT(kind) DO UPDATE SET amount = excluded.amount`,
		kind, amount,
	)
	if err != nil {
		return fmt.Errorf("upsert fee %s: %w", kind, err)
	}
	return nil
}
