package assets

import (
	"os"
	"reflect"
	"testing"

	"github.com/ghostmesh/ghostnode/internal/ghosterr"
	"github.com/ghostmesh/ghostnode/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "ghostnode-assets-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := store.New(&store.Config{DataDir: dir})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.SeedFees(store.DefaultFees()); err != nil {
		t.Fatalf("SeedFees: %v", err)
	}
	return st
}

func createWallet(t *testing.T, st *store.Store, id string, balance float64) {
	t.Helper()
	if err := st.CreateWallet(&store.Wallet{WalletID: id, Username: id, PasswordHash: "x", Balance: balance}); err != nil {
		t.Fatalf("CreateWallet(%s): %v", id, err)
	}
}

func TestRegisterDomainChargesFeeAndSetsExpiry(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "owner", 100)

	regFee, err := st.GetFee(store.FeeDomainReg)
	if err != nil {
		t.Fatalf("GetFee: %v", err)
	}

	asset, err := r.RegisterDomain("owner", "example.ghost", []byte("hello world"), 1000)
	if err != nil {
		t.Fatalf("RegisterDomain: %v", err)
	}
	if asset.ExpiryAt != 1000+DomainLifetimeSeconds {
		t.Errorf("expected expiry %d, got %d", 1000+DomainLifetimeSeconds, asset.ExpiryAt)
	}

	owner, err := st.GetWalletByID("owner")
	if err != nil {
		t.Fatalf("GetWalletByID: %v", err)
	}
	if owner.Balance >= 100 {
		t.Errorf("expected the domain_reg fee %v to be charged, balance still %v", regFee, owner.Balance)
	}
}

func TestRegisterDomainRejectsDuplicateActiveName(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "alice", 100)
	createWallet(t, st, "bob", 100)

	if _, err := r.RegisterDomain("alice", "taken.ghost", []byte("content"), 1000); err != nil {
		t.Fatalf("first RegisterDomain: %v", err)
	}
	_, err := r.RegisterDomain("bob", "taken.ghost", []byte("other content"), 1001)
	if !ghosterr.Is(err, ghosterr.DuplicateName) {
		t.Fatalf("expected DuplicateName, got %v", err)
	}
}

func TestRegisterDomainAllowsReRegistrationAfterExpiry(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "alice", 100)
	createWallet(t, st, "bob", 100)

	asset, err := r.RegisterDomain("alice", "expiring.ghost", []byte("content"), 1000)
	if err != nil {
		t.Fatalf("first RegisterDomain: %v", err)
	}

	if _, err := r.RegisterDomain("bob", "expiring.ghost", []byte("new content"), asset.ExpiryAt+1); err != nil {
		t.Fatalf("expected re-registration after expiry to succeed, got %v", err)
	}
}

func TestRegisterMediaNeverExpires(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "owner", 100)

	asset, err := r.RegisterMedia("owner", AssetTypeImage, "photo.png", []byte("binary-ish content"), 1000)
	if err != nil {
		t.Fatalf("RegisterMedia: %v", err)
	}
	if asset.ExpiryAt != 0 {
		t.Errorf("expected media ExpiryAt=0, got %d", asset.ExpiryAt)
	}
	if IsExpired(asset, 99999999) {
		t.Errorf("expected media to never expire")
	}
}

func TestRegisterMediaRejectsInvalidType(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "owner", 100)

	_, err := r.RegisterMedia("owner", "media", "photo.png", []byte("content"), 1000)
	if !ghosterr.Is(err, ghosterr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument for an unrecognized asset type, got %v", err)
	}
}

func TestRegisterMediaAcceptsEveryValidType(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "owner", 1000)

	for _, typ := range []string{AssetTypeImage, AssetTypeVideo, AssetTypeAudio, AssetTypeFile} {
		asset, err := r.RegisterMedia("owner", typ, "f-"+typ, []byte("content"), 1000)
		if err != nil {
			t.Fatalf("RegisterMedia(%s): %v", typ, err)
		}
		if asset.Type != typ {
			t.Errorf("expected asset Type %q, got %q", typ, asset.Type)
		}
	}
}

func TestUpdateDomainContentReextractsKeywordsAndRejectsNonOwner(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "owner", 100)

	asset, err := r.RegisterDomain("owner", "update-me.ghost", []byte("original content about rockets"), 1000)
	if err != nil {
		t.Fatalf("RegisterDomain: %v", err)
	}

	if _, err := r.UpdateDomainContent("someone-else", asset.ID, []byte("new content"), 1001); !ghosterr.Is(err, ghosterr.Unauthorized) {
		t.Fatalf("expected Unauthorized for a non-owner update, got %v", err)
	}

	updated, err := r.UpdateDomainContent("owner", asset.ID, []byte("new content about spaceships"), 1001)
	if err != nil {
		t.Fatalf("UpdateDomainContent: %v", err)
	}
	if string(updated.Content) != "new content about spaceships" {
		t.Errorf("expected updated content, got %q", updated.Content)
	}
	found := false
	for _, w := range ExtractKeywords(updated.Content) {
		if w == "spaceships" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected re-extracted keywords to include %q", "spaceships")
	}

	stored, err := st.GetAsset(asset.ID)
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if string(stored.Content) != "new content about spaceships" {
		t.Errorf("expected the update to persist, got %q", stored.Content)
	}
}

func TestDeleteRejectsNonOwnerAndRemovesAsset(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "owner", 100)

	asset, err := r.RegisterDomain("owner", "delete-me.ghost", []byte("content"), 1000)
	if err != nil {
		t.Fatalf("RegisterDomain: %v", err)
	}

	if err := r.Delete("someone-else", asset.ID); !ghosterr.Is(err, ghosterr.Unauthorized) {
		t.Fatalf("expected Unauthorized for a non-owner delete, got %v", err)
	}

	if err := r.Delete("owner", asset.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.GetAsset(asset.ID); err == nil {
		t.Errorf("expected the asset to be gone after Delete")
	}
}

func TestRegisterRejectsInsufficientFunds(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "owner", 0)

	_, err := r.RegisterDomain("owner", "broke.ghost", []byte("content"), 1000)
	if !ghosterr.Is(err, ghosterr.InsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
}

func TestGetDataRejectsExpiredDomain(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "owner", 100)

	asset, err := r.RegisterDomain("owner", "short.ghost", []byte("content"), 1000)
	if err != nil {
		t.Fatalf("RegisterDomain: %v", err)
	}

	_, err = r.GetData(asset.ID, asset.ExpiryAt+1)
	if !ghosterr.Is(err, ghosterr.NotFound) {
		t.Fatalf("expected NotFound for an expired domain, got %v", err)
	}
}

func TestPruneExpiredDeletesOnlyExpiredDomains(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "owner", 100)

	expired, err := r.RegisterDomain("owner", "gone.ghost", []byte("content"), 1000)
	if err != nil {
		t.Fatalf("RegisterDomain: %v", err)
	}
	media, err := r.RegisterMedia("owner", AssetTypeImage, "keep.png", []byte("content"), 1000)
	if err != nil {
		t.Fatalf("RegisterMedia: %v", err)
	}

	pruned, err := r.PruneExpired(expired.ExpiryAt + 1)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned asset, got %d", pruned)
	}

	if _, err := r.store.GetAsset(expired.ID); err == nil {
		t.Errorf("expected the expired domain to be deleted")
	}
	if _, err := r.store.GetAsset(media.ID); err != nil {
		t.Errorf("expected the media asset to survive pruning: %v", err)
	}
}

func TestSearchMatchesNameAndKeywords(t *testing.T) {
	st := newTestStore(t)
	r := New(st)
	createWallet(t, st, "owner", 100)

	if _, err := r.RegisterDomain("owner", "spaceship.ghost", []byte("a story about rockets and stars"), 1000); err != nil {
		t.Fatalf("RegisterDomain: %v", err)
	}

	results, err := r.Search("rockets")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for _, a := range results {
		if a.Name == "spaceship.ghost" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Search(%q) to surface the keyword-matching domain", "rockets")
	}
}

func TestExtractKeywordsDedupesLowercasesAndDropsShortWords(t *testing.T) {
	words := ExtractKeywords([]byte("Go GO go rocket Rocket ab a"))
	want := []string{"rocket"}
	if !reflect.DeepEqual(words, want) {
		t.Errorf("ExtractKeywords = %v, want %v", words, want)
	}
}

func TestExtractKeywordsRejectsAlphanumericTokens(t *testing.T) {
	words := ExtractKeywords([]byte("div123 h1 plain rocket99"))
	for _, w := range words {
		if w == "div123" || w == "h1" || w == "rocket99" {
			t.Errorf("expected alphanumeric tokens to be rejected, got %v", words)
		}
	}
	found := false
	for _, w := range words {
		if w == "plain" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the purely alphabetic token %q to survive, got %v", "plain", words)
	}
}

func TestExtractKeywordsStripsScriptAndStyleAndTags(t *testing.T) {
	content := []byte(`<html><head><style>body{color:red}</style><script>var leaked = "secretsauce";</script></head><body><h1>rockets</h1></body></html>`)
	words := ExtractKeywords(content)
	for _, w := range words {
		if w == "leaked" || w == "secretsauce" || w == "var" || w == "color" || w == "red" {
			t.Errorf("expected script/style content not to leak into keywords, got %v", words)
		}
	}
	found := false
	for _, w := range words {
		if w == "rockets" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %q from visible text to survive, got %v", "rockets", words)
	}
}

func TestExtractKeywordsCapsAtTwenty(t *testing.T) {
	var sb []byte
	letters := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel", "india", "juliet",
		"kilo", "lima", "mike", "november", "oscar", "papa", "quebec", "romeo", "sierra", "tango", "uniform", "victor"}
	for _, w := range letters {
		sb = append(sb, []byte(w+" ")...)
	}
	words := ExtractKeywords(sb)
	if len(words) != MaxKeywords {
		t.Errorf("expected ExtractKeywords to cap at %d words, got %d: %v", MaxKeywords, len(words), words)
	}
}
