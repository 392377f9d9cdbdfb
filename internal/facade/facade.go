// Package facade is the single owning coordinator that wires every
// GhostProtocol component together, so no two components hold a mutual
// back-reference to each other (the late-bound mutual back-reference
// anti-pattern this design explicitly avoids, per SPEC_FULL.md's Design
// Notes). Every HTTP handler, peer-facing or operator-facing, talks to
// the node exclusively through a Facade.
package facade

import (
	"time"

	"github.com/ghostmesh/ghostnode/internal/assets"
	"github.com/ghostmesh/ghostnode/internal/contracts"
	"github.com/ghostmesh/ghostnode/internal/ledger"
	"github.com/ghostmesh/ghostnode/internal/messenger"
	"github.com/ghostmesh/ghostnode/internal/metrics"
	"github.com/ghostmesh/ghostnode/internal/peers"
	"github.com/ghostmesh/ghostnode/internal/store"
	"github.com/ghostmesh/ghostnode/internal/sync"
	"github.com/ghostmesh/ghostnode/pkg/logging"
)

// Facade exposes every node capability to the HTTP layers, owning the
// components that implement them.
type Facade struct {
	Store     *store.Store
	Ledger    *ledger.Ledger
	Assets    *assets.Registry
	Contracts *contracts.Registry
	Messages  *messenger.Log
	Peers     *peers.Set
	Sync      *sync.Engine

	SelfAddr string // host:port this node's peer API is reachable at
	log      *logging.Logger
}

// New wires a Facade from its components.
func New(st *store.Store, l *ledger.Ledger, a *assets.Registry, c *contracts.Registry, m *messenger.Log, p *peers.Set, s *sync.Engine, selfAddr string) *Facade {
	return &Facade{
		Store:     st,
		Ledger:    l,
		Assets:    a,
		Contracts: c,
		Messages:  m,
		Peers:     p,
		Sync:      s,
		SelfAddr:  selfAddr,
		log:       logging.GetDefault().Component("facade"),
	}
}

// Now returns the current Unix timestamp, the one place components reach
// for wall-clock time so call sites stay deterministic in tests.
func Now() int64 { return time.Now().Unix() }

// Transfer moves coins between two wallets and best-effort replicates the
// resulting transaction to every known peer.
func (f *Facade) Transfer(sender, recipient string, amount float64) (*store.Transaction, error) {
	txn, err := f.Ledger.Transfer(sender, recipient, amount, Now())
	if err != nil {
		return nil, err
	}
	metrics.TransfersSettled.Inc()
	f.broadcast("/api/send_transaction", txn)
	return txn, nil
}

// Mine seals a new block for minerWalletID.
func (f *Facade) Mine(minerWalletID string) (*store.Block, error) {
	active, err := f.Peers.ActiveCount(Now())
	if err != nil {
		return nil, err
	}
	block, err := f.Ledger.Mine(minerWalletID, active, Now())
	if err != nil {
		return nil, err
	}
	metrics.BlocksMined.Inc()
	metrics.ChainHeight.Set(float64(block.Index))
	return block, nil
}

// RegisterDomain claims a domain name and replicates it to known peers.
func (f *Facade) RegisterDomain(owner, name string, content []byte) (*store.Asset, error) {
	asset, err := f.Assets.RegisterDomain(owner, name, content, Now())
	if err != nil {
		return nil, err
	}
	f.broadcastAsset(asset)
	return asset, nil
}

// RegisterMedia stores a media file of the given type and replicates it
// to known peers.
func (f *Facade) RegisterMedia(owner, assetType, name string, content []byte) (*store.Asset, error) {
	asset, err := f.Assets.RegisterMedia(owner, assetType, name, content, Now())
	if err != nil {
		return nil, err
	}
	f.broadcastAsset(asset)
	return asset, nil
}

// UpdateAsset replaces a domain asset's content, re-extracting keywords,
// failing unless caller owns it.
func (f *Facade) UpdateAsset(caller, id string, content []byte) (*store.Asset, error) {
	return f.Assets.UpdateDomainContent(caller, id, content, Now())
}

// DeleteAsset hard-deletes an asset, failing unless caller owns it.
func (f *Facade) DeleteAsset(caller, id string) error {
	return f.Assets.Delete(caller, id)
}

// SendMessage appends a message and replicates it to known peers.
func (f *Facade) SendMessage(sender, recipient, content, assetID string) (*store.Message, error) {
	msg, err := f.Messages.Send(sender, recipient, content, assetID, Now())
	if err != nil {
		return nil, err
	}
	f.broadcast("/api/messenger/receive_message", msg)
	return msg, nil
}

// Invite records a friend relationship and replicates it to known peers.
func (f *Facade) Invite(inviter, invitee string) error {
	if err := f.Messages.Invite(inviter, invitee, Now()); err != nil {
		return err
	}
	f.broadcast("/api/messenger/invite", map[string]string{"inviter": inviter, "invitee": invitee})
	return nil
}

// DeployContract deploys a contract on this node only: contracts are not
// pushed to peers, and the sync engine does not pull them.
func (f *Facade) DeployContract(owner, source string) (*store.Contract, error) {
	return f.Contracts.Deploy(owner, source, Now())
}

// CallContract invokes a contract method.
func (f *Facade) CallContract(address, caller, method string, args []interface{}) (*contracts.CallResult, error) {
	result, err := f.Contracts.Call(address, caller, method, args, Now())
	if err != nil {
		metrics.ContractCalls.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ContractCalls.WithLabelValues("ok").Inc()
	return result, nil
}

func (f *Facade) broadcast(path string, body interface{}) {
	known, err := f.Peers.KnownPeers(Now())
	if err != nil {
		f.log.Warn("list known peers for broadcast", "error", err)
		return
	}
	for _, addr := range known {
		if addr == f.SelfAddr {
			continue
		}
		f.Sync.PushJSON(addr, path, body)
	}
}

func (f *Facade) broadcastAsset(a *store.Asset) {
	dto := sync.AssetDataDTO{
		AssetMetaDTO: sync.AssetMetaDTO{
			ID:        a.ID,
			Owner:     a.Owner,
			Type:      a.Type,
			Name:      a.Name,
			Size:      a.Size,
			CreatedAt: a.CreatedAt,
			ExpiryAt:  a.ExpiryAt,
			Keywords:  a.Keywords,
		},
	}
	f.broadcast("/api/asset_announce", dto)
}
