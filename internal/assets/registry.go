// Package assets registers and serves GhostProtocol's expiring content
// assets: domain names and the media files published under them.
package assets

import (
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/ghostmesh/ghostnode/internal/ghosterr"
	"github.com/ghostmesh/ghostnode/internal/store"
	"github.com/ghostmesh/ghostnode/pkg/logging"
)

// DomainLifetimeSeconds is how long a registered domain stays active
// before it can be re-registered by anyone (§3 Domain Lifetime).
const DomainLifetimeSeconds = 15_552_000 // 180 days

// Asset types (§3 Asset). Only domain assets carry keywords and an
// expiry; the other four are media kinds that never expire.
const (
	AssetTypeDomain = "domain"
	AssetTypeImage  = "image"
	AssetTypeVideo  = "video"
	AssetTypeAudio  = "audio"
	AssetTypeFile   = "file"
)

// mediaTypes is the set of valid non-domain asset types RegisterMedia
// accepts.
var mediaTypes = map[string]bool{
	AssetTypeImage: true,
	AssetTypeVideo: true,
	AssetTypeAudio: true,
	AssetTypeFile:  true,
}

// ValidMediaType reports whether t is one of the four registrable media
// kinds (image, video, audio, file).
func ValidMediaType(t string) bool {
	return mediaTypes[t]
}

// Registry manages domain and media assets.
type Registry struct {
	store *store.Store
	log   *logging.Logger
}

// New returns a Registry backed by st.
func New(st *store.Store) *Registry {
	return &Registry{
		store: st,
		log:   logging.GetDefault().Component("assets"),
	}
}

// RegisterDomain claims name for owner, charging domain_reg plus
// storage_mb proportional to content size. Fails with DuplicateName if an
// unexpired domain of the same name already exists (§4.3).
func (r *Registry) RegisterDomain(owner, name string, content []byte, now int64) (*store.Asset, error) {
	if existing, err := r.store.FindActiveDomain(name, now); err == nil && existing != nil {
		return nil, ghosterr.New(ghosterr.DuplicateName, fmt.Sprintf("domain %q is still active", name))
	} else if err != nil && err != store.ErrNotFound {
		return nil, err
	}

	asset := &store.Asset{
		ID:        uuid.NewString(),
		Owner:     owner,
		Type:      AssetTypeDomain,
		Name:      name,
		Content:   content,
		Size:      int64(len(content)),
		CreatedAt: now,
		ExpiryAt:  now + DomainLifetimeSeconds,
		Keywords:  strings.Join(ExtractKeywords(content), ","),
	}

	if err := r.chargeAndInsert(owner, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// RegisterMedia stores a media file of the given type under owner,
// charging storage_mb proportional to content size. Media assets never
// expire and, unlike domains, are never keyword-indexed (§3 Asset: "only
// for domains").
func (r *Registry) RegisterMedia(owner, assetType, name string, content []byte, now int64) (*store.Asset, error) {
	if !ValidMediaType(assetType) {
		return nil, ghosterr.New(ghosterr.InvalidArgument, fmt.Sprintf("invalid media asset type %q", assetType))
	}

	asset := &store.Asset{
		ID:        uuid.NewString(),
		Owner:     owner,
		Type:      assetType,
		Name:      name,
		Content:   content,
		Size:      int64(len(content)),
		CreatedAt: now,
		ExpiryAt:  0,
	}

	if err := r.chargeAndInsert(owner, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

func (r *Registry) chargeAndInsert(owner string, asset *store.Asset) error {
	return r.store.WithTx(func(tx *sql.Tx) error {
		regFee, err := store.GetFeeTx(tx, store.FeeDomainReg)
		if err != nil {
			return fmt.Errorf("read domain_reg fee: %w", err)
		}
		mbFee, err := store.GetFeeTx(tx, store.FeeStorageMB)
		if err != nil {
			return fmt.Errorf("read storage_mb fee: %w", err)
		}

		storageMB := float64(asset.Size) / (1024 * 1024)
		total := mbFee * storageMB
		if asset.Type == AssetTypeDomain {
			total += regFee
		}

		wallet, err := store.GetWalletTx(tx, owner)
		if err != nil {
			if err == store.ErrNotFound {
				return ghosterr.New(ghosterr.NotFound, "owner wallet not found")
			}
			return err
		}
		if wallet.Balance < total {
			return ghosterr.New(ghosterr.InsufficientFunds, "insufficient balance for registration fee")
		}
		if total > 0 {
			if err := store.AdjustBalanceTx(tx, owner, -total); err != nil {
				return fmt.Errorf("charge registration fee: %w", err)
			}
		}
		if _, err := store.InsertAssetTx(tx, asset); err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		return nil
	})
}

func (r *Registry) getOwnedAsset(id string) (*store.Asset, error) {
	asset, err := r.store.GetAsset(id)
	if err == store.ErrNotFound {
		return nil, ghosterr.New(ghosterr.NotFound, "asset not found")
	}
	return asset, err
}

// UpdateDomainContent replaces a domain's content and re-extracts its
// keywords, failing with Unauthorized unless caller owns the asset (§4.3
// update).
func (r *Registry) UpdateDomainContent(caller, id string, content []byte, now int64) (*store.Asset, error) {
	asset, err := r.getOwnedAsset(id)
	if err != nil {
		return nil, err
	}
	if asset.Owner != caller {
		return nil, ghosterr.New(ghosterr.Unauthorized, "only the owner may update this asset")
	}
	if asset.Type != AssetTypeDomain {
		return nil, ghosterr.New(ghosterr.InvalidArgument, "only domain assets may be updated")
	}

	keywords := strings.Join(ExtractKeywords(content), ",")
	err = r.store.WithTx(func(tx *sql.Tx) error {
		return store.UpdateAssetContentTx(tx, id, content, int64(len(content)), keywords)
	})
	if err != nil {
		return nil, err
	}

	asset.Content = content
	asset.Size = int64(len(content))
	asset.Keywords = keywords
	return asset, nil
}

// Delete hard-deletes an asset, failing with Unauthorized unless caller
// owns it (§4.3 delete).
func (r *Registry) Delete(caller, id string) error {
	asset, err := r.getOwnedAsset(id)
	if err != nil {
		return err
	}
	if asset.Owner != caller {
		return ghosterr.New(ghosterr.Unauthorized, "only the owner may delete this asset")
	}
	return r.store.DeleteAsset(id)
}

// GetData returns an asset's content, failing with NotFound if the asset
// is absent or (for domains) expired.
func (r *Registry) GetData(id string, now int64) (*store.Asset, error) {
	asset, err := r.getOwnedAsset(id)
	if err != nil {
		return nil, err
	}
	if IsExpired(asset, now) {
		return nil, ghosterr.New(ghosterr.NotFound, "asset has expired")
	}
	return asset, nil
}

// IsExpired reports whether a domain asset has passed its expiry; media
// assets never expire (ExpiryAt is 0).
func IsExpired(a *store.Asset, now int64) bool {
	return a.Type == AssetTypeDomain && a.ExpiryAt <= now
}

// Search performs a case-insensitive substring match over name and
// extracted keywords (§4.3 supplemented search).
func (r *Registry) Search(query string) ([]store.Asset, error) {
	return r.store.SearchAssets(query)
}

// AllMeta returns every asset's metadata for the sync engine's asset
// catch-up, without requiring callers to hold file content in memory
// beyond what Store already returns.
func (r *Registry) AllMeta() ([]store.Asset, error) {
	return r.store.AllAssets()
}

// ReceiveAsset records an asset learned from a peer, idempotent on ID
// (§5 sync engine asset catch-up).
func (r *Registry) ReceiveAsset(a *store.Asset) error {
	return r.store.WithTx(func(tx *sql.Tx) error {
		_, err := store.InsertAssetTx(tx, a)
		return err
	})
}

// PruneExpired deletes every domain asset whose expiry has passed.
func (r *Registry) PruneExpired(now int64) (int, error) {
	ids, err := r.store.AllAssetIDs()
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, id := range ids {
		a, err := r.store.GetAsset(id)
		if err != nil {
			continue
		}
		if IsExpired(a, now) {
			if err := r.store.DeleteAsset(id); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

// MaxKeywords bounds how many keywords a domain's content can contribute
// to the search index (§3 Asset keyword cap).
const MaxKeywords = 20

var (
	scriptOrStyleBlock = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)>`)
	htmlTag            = regexp.MustCompile(`(?s)<[^>]*>`)
)

// ExtractKeywords splits a domain's content into a deduplicated, sorted
// list of lowercase words, for the supplemented search-by-keyword feature
// (original_source kept a keyword index alongside domain names). Script
// and style blocks, and any remaining HTML tags, are stripped first so
// markup and embedded code never leak into the index; only domains are
// keyword-indexed (§3 Asset: "only for domains").
func ExtractKeywords(content []byte) []string {
	text := scriptOrStyleBlock.ReplaceAllString(string(content), " ")
	text = htmlTag.ReplaceAllString(text, " ")

	seen := make(map[string]bool)
	var words []string
	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		w := strings.ToLower(field)
		if len(w) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	sort.Strings(words)
	if len(words) > MaxKeywords {
		words = words[:MaxKeywords]
	}
	return words
}
