package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rondot/internal"
	"rondot/internal/catalog"
)

func snapshotOf(clients ...internal.ReferenceClient) *catalog.Snapshot {
	return catalog.Build(clients, nil)
}

func TestRankClientsSenderDomain(t *testing.T) {
	// Scenario: sender domain matches a cataloged client's email, empty body.
	snap := snapshotOf(internal.ReferenceClient{
		ID: "C1", DisplayName: "Acme Industries", Email: "sales@example.com",
	})
	r := NewClientResolver(60, 5)

	sig := internal.Signals{Domains: []string{"example.com"}}
	got := r.Rank("Demande de prix\n", sig, snap)

	require.Len(t, got, 1)
	assert.Equal(t, "C1", got[0].EntityID)
	assert.Equal(t, 95, got[0].Score)
	assert.Contains(t, got[0].Reason, "example.com")
}

func TestRankClientsCombinedDomainAndName(t *testing.T) {
	snap := snapshotOf(internal.ReferenceClient{
		ID: "C1", DisplayName: "Moulinex", Email: "contact@moulinex.fr",
	})
	r := NewClientResolver(60, 5)

	sig := internal.Signals{Domains: []string{"moulinex.fr"}}
	got := r.Rank("Bonjour, commande pour moulinex ci-dessous\n", sig, snap)

	require.Len(t, got, 1)
	// Combined domain+name beats every single strategy.
	assert.Equal(t, 98, got[0].Score)
}

func TestRankClientsExactNameInText(t *testing.T) {
	snap := snapshotOf(internal.ReferenceClient{ID: "C1", DisplayName: "Verallia"})
	r := NewClientResolver(60, 5)

	got := r.Rank("Livraison pour verallia au plus vite", internal.Signals{}, snap)

	require.Len(t, got, 1)
	assert.Equal(t, 90, got[0].Score)
}

func TestRankClientsStableTieBreak(t *testing.T) {
	// Two clients with the same score: snapshot order decides, by policy.
	a := internal.ReferenceClient{ID: "C1", DisplayName: "Tecma"}
	b := internal.ReferenceClient{ID: "C2", DisplayName: "Tecma"}
	r := NewClientResolver(60, 5)
	text := "piece pour tecma sarl"

	got := r.Rank(text, internal.Signals{}, snapshotOf(a, b))
	require.Len(t, got, 2)
	assert.Equal(t, got[0].Score, got[1].Score)
	assert.Equal(t, "C1", got[0].EntityID)

	reversed := r.Rank(text, internal.Signals{}, snapshotOf(b, a))
	require.Len(t, reversed, 2)
	assert.Equal(t, "C2", reversed[0].EntityID)
}

func TestRankClientsFloorAndBounds(t *testing.T) {
	snap := snapshotOf(
		internal.ReferenceClient{ID: "C1", DisplayName: "Verallia", Email: "po@verallia.com"},
		internal.ReferenceClient{ID: "C2", DisplayName: "Zzglorp Holdings"},
	)
	r := NewClientResolver(60, 5)

	sig := internal.Signals{Domains: []string{"verallia.com"}}
	got := r.Rank("commande verallia", sig, snap)

	require.NotEmpty(t, got)
	for _, c := range got {
		assert.GreaterOrEqual(t, c.Score, 60)
		assert.LessOrEqual(t, c.Score, 100)
		assert.NotEqual(t, "C2", c.EntityID, "unrelated client must be discarded")
	}
}

func TestRankClientsDeterministic(t *testing.T) {
	snap := snapshotOf(
		internal.ReferenceClient{ID: "C1", DisplayName: "Saint Gobain", Email: "achat@saint-gobain.fr"},
		internal.ReferenceClient{ID: "C2", DisplayName: "Verallia"},
		internal.ReferenceClient{ID: "C3", DisplayName: "Tecma"},
	)
	r := NewClientResolver(60, 5)
	sig := internal.Signals{Domains: []string{"saint-gobain.fr"}}
	text := "Commande verallia et tecma pour saint gobain"

	first := r.Rank(text, sig, snap)
	second := r.Rank(text, sig, snap)
	assert.Equal(t, first, second)
}

func TestRankClientsTopN(t *testing.T) {
	clients := make([]internal.ReferenceClient, 0, 8)
	for _, id := range []string{"C1", "C2", "C3", "C4", "C5", "C6", "C7", "C8"} {
		clients = append(clients, internal.ReferenceClient{ID: id, DisplayName: "Tecma"})
	}
	r := NewClientResolver(60, 5)

	got := r.Rank("piece pour tecma", internal.Signals{}, snapshotOf(clients...))
	assert.Len(t, got, 5)
	assert.Equal(t, "C1", got[0].EntityID)
}
