// Package contracts deploys and invokes GhostProtocol smart contracts,
// persisting each contract's state between calls through store.Store and
// executing its source through the sandboxed vm package.
package contracts

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ghostmesh/ghostnode/internal/contracts/vm"
	"github.com/ghostmesh/ghostnode/internal/ghosterr"
	"github.com/ghostmesh/ghostnode/internal/store"
	"github.com/ghostmesh/ghostnode/pkg/logging"
)

// ContractAddressPrefix marks every contract address (§3 Contract).
const ContractAddressPrefix = "CNT"

// Registry deploys and calls contracts, charging the configured fee
// schedule and settling balances against the same store transaction as
// the state update.
type Registry struct {
	store *store.Store
	log   *logging.Logger

	// ChargeFeeOnFailure controls what happens to the contract_call fee
	// when a call's execution fails: charge it anyway (spec default) or
	// refund it. Open Question (a): kept configurable (see DESIGN.md).
	ChargeFeeOnFailure bool
}

// New returns a Registry backed by st.
func New(st *store.Store) *Registry {
	return &Registry{
		store:              st,
		log:                logging.GetDefault().Component("contracts"),
		ChargeFeeOnFailure: true,
	}
}

// NewContractAddress derives a contract address from a random UUID, the
// way wallet IDs are derived from a username (§3 Contract).
func NewContractAddress() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return ContractAddressPrefix + hex.EncodeToString(sum[:])[:20]
}

// Deploy validates source, charges the deploy fee, runs init() against an
// empty state if present, and persists the resulting contract (§4.4).
func (r *Registry) Deploy(owner, source string, now int64) (*store.Contract, error) {
	prog, err := vm.Parse(source)
	if err != nil {
		return nil, ghosterr.Wrap(ghosterr.VmValidationError, err)
	}

	state := map[string]interface{}{}
	if _, ok := prog.Functions["init"]; ok {
		interp := &vm.Interpreter{}
		if _, err := interp.Call(prog, "init", nil, state); err != nil {
			return nil, ghosterr.Wrap(ghosterr.VmRuntimeError, err)
		}
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal initial state: %w", err)
	}

	contract := &store.Contract{
		Address:   NewContractAddress(),
		Owner:     owner,
		Source:    source,
		State:     string(stateJSON),
		CreatedAt: now,
	}

	err = r.store.WithTx(func(tx *sql.Tx) error {
		fee, err := store.GetFeeTx(tx, store.FeeContractDeploy)
		if err != nil {
			return fmt.Errorf("read deploy fee: %w", err)
		}
		ownerWallet, err := store.GetWalletTx(tx, owner)
		if err != nil {
			if err == store.ErrNotFound {
				return ghosterr.New(ghosterr.NotFound, "owner wallet not found")
			}
			return err
		}
		if ownerWallet.Balance < fee {
			return ghosterr.New(ghosterr.InsufficientFunds, "insufficient balance for deploy fee")
		}
		if err := store.AdjustBalanceTx(tx, owner, -fee); err != nil {
			return fmt.Errorf("charge deploy fee: %w", err)
		}
		if _, err := store.InsertContractTx(tx, contract); err != nil {
			return fmt.Errorf("insert contract: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return contract, nil
}

// CallResult is the outcome of a contract invocation.
type CallResult struct {
	Result interface{}
	State  map[string]interface{}
}

// Call invokes method on the contract at address with args, charging the
// contract_call fee and persisting any state mutation atomically with the
// charge (§4.4). On VM failure the fee is still charged unless
// ChargeFeeOnFailure is false.
func (r *Registry) Call(address, caller, method string, args []interface{}, now int64) (*CallResult, error) {
	var result *CallResult
	// callErr is reported to the caller after the transaction commits, so a
	// fee charged on failure (ChargeFeeOnFailure) isn't undone by WithTx's
	// unconditional rollback-on-error.
	var callErr error

	err := r.store.WithTx(func(tx *sql.Tx) error {
		contract, err := store.GetContractTx(tx, address)
		if err != nil {
			if err == store.ErrNotFound {
				return ghosterr.New(ghosterr.NotFound, "contract not found")
			}
			return err
		}

		fee, err := store.GetFeeTx(tx, store.FeeContractCall)
		if err != nil {
			return fmt.Errorf("read call fee: %w", err)
		}
		callerWallet, err := store.GetWalletTx(tx, caller)
		if err != nil {
			if err == store.ErrNotFound {
				return ghosterr.New(ghosterr.NotFound, "caller wallet not found")
			}
			return err
		}
		if callerWallet.Balance < fee {
			return ghosterr.New(ghosterr.InsufficientFunds, "insufficient balance for call fee")
		}

		prog, err := vm.Parse(contract.Source)
		if err != nil {
			return ghosterr.Wrap(ghosterr.VmValidationError, err)
		}

		var state map[string]interface{}
		if err := json.Unmarshal([]byte(contract.State), &state); err != nil {
			return fmt.Errorf("unmarshal contract state: %w", err)
		}

		interp := &vm.Interpreter{}
		value, vmErr := interp.Call(prog, method, args, state)

		if vmErr != nil {
			if r.ChargeFeeOnFailure {
				if err := store.AdjustBalanceTx(tx, caller, -fee); err != nil {
					return fmt.Errorf("charge call fee on failure: %w", err)
				}
			}
			callErr = ghosterr.Wrap(ghosterr.VmRuntimeError, vmErr)
			return nil
		}

		if err := store.AdjustBalanceTx(tx, caller, -fee); err != nil {
			return fmt.Errorf("charge call fee: %w", err)
		}
		newStateJSON, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal new state: %w", err)
		}
		if err := store.UpdateContractStateTx(tx, address, string(newStateJSON)); err != nil {
			return fmt.Errorf("persist new state: %w", err)
		}

		result = &CallResult{Result: value, State: state}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if callErr != nil {
		return nil, callErr
	}
	return result, nil
}

// Get returns a contract's current public record.
func (r *Registry) Get(address string) (*store.Contract, error) {
	return r.store.GetContract(address)
}
