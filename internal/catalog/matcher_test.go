package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-finder/internal/geo"
	"product-finder/internal/migrate"
	"product-finder/internal/utils"
)

func fixtureItems() []Item {
	return []Item{
		{ID: "i01", Name: "Fresh Milk 1L", Price: 420, StockStatus: "in_stock", StoreRef: "s1"},
		{ID: "i02", Name: "Chocolate Milk", Price: 250, StockStatus: "in_stock", StoreRef: "s2"},
		{ID: "i03", Name: "Apple Juice", Price: 610, StockStatus: "low_stock", StoreRef: "s1"},
		{ID: "i04", Name: "Basmati Rice 5kg", Price: 2900, StockStatus: "in_stock"},
		{ID: "i05", Name: "Red Onion", Price: 180, StockStatus: "in_stock", StoreRef: "missing"},
		{ID: "i06", Name: "Orange Juice", Price: 700, StockStatus: "in_stock", StoreRef: "s2"},
		{ID: "i07", Name: "White Bread", Price: 160, StockStatus: "in_stock", StoreRef: "s1"},
		{ID: "i08", Name: "Butter 200g", Price: 980, StockStatus: "out_of_stock", StoreRef: "s1"},
		{ID: "i09", Name: "Eggs 10pk", Price: 560, StockStatus: "in_stock", StoreRef: "s2"},
		{ID: "i10", Name: "Cheddar Cheese", Price: 1450, StockStatus: "in_stock", StoreRef: "s2"},
	}
}

func fixtureStores() map[string]StoreInfo {
	return map[string]StoreInfo{
		"s1": {Name: "Keells Kollupitiya", Coord: &geo.Coordinate{Lat: 6.9147, Lon: 79.8531}},
		"s2": {Name: "Cargills Bambalapitiya"},
	}
}

func newTestMatcher(t *testing.T, src Source, opts ...Option) *Matcher {
	t.Helper()
	m, err := NewMatcher(src, opts...)
	require.NoError(t, err)
	return m
}

func TestNewMatcherRequiresSource(t *testing.T) {
	_, err := NewMatcher(nil)
	assert.ErrorIs(t, err, ErrSourceRequired)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"red", "apple", "juice"}, tokenize("Red apple_juice"))
	assert.Equal(t, []string{"milk"}, tokenize("a of milk, MILK!"))
	assert.Empty(t, tokenize("an ox"))
}

func TestSearchSubstringTier(t *testing.T) {
	src := NewMemorySource(fixtureItems(), fixtureStores())
	notified := 0
	m := newTestMatcher(t, src, WithFallbackNotifier(func(string) { notified++ }))

	res, err := m.Search(context.Background(), "milk")
	require.NoError(t, err)
	assert.Equal(t, TierSubstring, res.Tier)
	assert.False(t, res.Fallback)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Fresh Milk 1L", res.Items[0].Name)
	assert.Equal(t, "Keells Kollupitiya", res.Items[0].StoreName)
	assert.Equal(t, "Cargills Bambalapitiya", res.Items[1].StoreName)
	for _, it := range res.Items {
		assert.Nil(t, it.DistanceKm)
	}
	assert.Equal(t, 0, src.Calls("any"))
	assert.Equal(t, 0, src.Calls("sample"))
	assert.Zero(t, notified)
}

func TestSearchKeywordTierStopsBeforeFallback(t *testing.T) {
	src := NewMemorySource(fixtureItems(), fixtureStores())
	notified := 0
	m := newTestMatcher(t, src, WithFallbackNotifier(func(string) { notified++ }))

	res, err := m.Search(context.Background(), "red apple juice")
	require.NoError(t, err)
	assert.Equal(t, TierKeyword, res.Tier)
	assert.False(t, res.Fallback)

	names := make([]string, 0, len(res.Items))
	for _, it := range res.Items {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"Apple Juice", "Red Onion", "Orange Juice"}, names)
	assert.Equal(t, 1, src.Calls("substring"))
	assert.Equal(t, 0, src.Calls("sample"))
	assert.Zero(t, notified)
}

func TestSearchFallbackSignalsOnce(t *testing.T) {
	src := NewMemorySource(fixtureItems(), fixtureStores())
	var signals []string
	m := newTestMatcher(t, src, WithFallbackNotifier(func(q string) { signals = append(signals, q) }))

	res, err := m.Search(context.Background(), "quinoa flakes")
	require.NoError(t, err)
	assert.Equal(t, TierFallback, res.Tier)
	assert.True(t, res.Fallback)
	assert.Equal(t, FallbackMessage, res.Message)
	assert.Len(t, res.Items, DefaultFallbackLimit)
	assert.Equal(t, []string{"quinoa flakes"}, signals)
}

func TestSearchShortTokensSkipKeywordTier(t *testing.T) {
	src := NewMemorySource(fixtureItems(), fixtureStores())
	m := newTestMatcher(t, src)

	res, err := m.Search(context.Background(), "zz q")
	require.NoError(t, err)
	assert.Equal(t, TierFallback, res.Tier)
	assert.Equal(t, 0, src.Calls("any"))
}

func TestSearchUnknownStore(t *testing.T) {
	src := NewMemorySource(fixtureItems(), fixtureStores())
	m := newTestMatcher(t, src)

	res, err := m.Search(context.Background(), "rice")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, UnknownStore, res.Items[0].StoreName)

	res, err = m.Search(context.Background(), "onion")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, UnknownStore, res.Items[0].StoreName)
}

func TestSearchEmptyCatalog(t *testing.T) {
	m := newTestMatcher(t, NewMemorySource(nil, nil))
	res, err := m.Search(context.Background(), "milk")
	assert.ErrorIs(t, err, ErrNoMatchFound)
	require.NotNil(t, res)
	assert.Empty(t, res.Items)
}

func TestSearchSubstringLimit(t *testing.T) {
	items := make([]Item, 0, 25)
	for i := 0; i < 25; i++ {
		items = append(items, Item{ID: fmt.Sprintf("m%02d", i), Name: fmt.Sprintf("Milk variant %d", i)})
	}
	m := newTestMatcher(t, NewMemorySource(items, nil))
	res, err := m.Search(context.Background(), "MILK")
	require.NoError(t, err)
	assert.Len(t, res.Items, DefaultSubstringLimit)
	assert.Equal(t, "m00", res.Items[0].ID)
}

type failingSource struct{ err error }

func (f failingSource) SearchSubstring(context.Context, string, int) ([]Item, error) {
	return nil, f.err
}
func (f failingSource) SearchAny(context.Context, []string, int) ([]Item, error) { return nil, f.err }
func (f failingSource) Sample(context.Context, int) ([]Item, error)              { return nil, f.err }

func TestSearchAllTiersFail(t *testing.T) {
	boom := errors.New("db down")
	m := newTestMatcher(t, failingSource{err: boom})
	_, err := m.Search(context.Background(), "milk")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoMatchFound)
}

type partialSource struct {
	*MemorySource
}

func (p partialSource) SearchSubstring(context.Context, string, int) ([]Item, error) {
	return nil, errors.New("timeout")
}

func TestSearchTierErrorDegrades(t *testing.T) {
	m := newTestMatcher(t, partialSource{NewMemorySource(fixtureItems(), fixtureStores())})
	res, err := m.Search(context.Background(), "milk")
	require.NoError(t, err)
	assert.Equal(t, TierKeyword, res.Tier)
	assert.Len(t, res.Items, 2)
}

func seedSQL(t *testing.T) *SQLSource {
	t.Helper()
	db, err := utils.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.EnsureSchema(ctx, db))
	_, err = db.ExecContext(ctx, `INSERT INTO stores(id, name, address, lat, lon) VALUES
        ('s1', 'Keells Kollupitiya', 'Galle Rd', 6.9147, 79.8531),
        ('s2', 'Cargills Bambalapitiya', 'Galle Rd', NULL, NULL)`)
	require.NoError(t, err)
	src := NewSQLSource(db)
	for _, it := range fixtureItems() {
		if it.StoreRef == "missing" {
			it.StoreRef = ""
		}
		require.NoError(t, src.UpsertItem(ctx, it))
	}
	return src
}

func TestSQLSourceTiers(t *testing.T) {
	src := seedSQL(t)
	m := newTestMatcher(t, src)
	ctx := context.Background()

	res, err := m.Search(ctx, "MILK")
	require.NoError(t, err)
	assert.Equal(t, TierSubstring, res.Tier)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Keells Kollupitiya", res.Items[0].StoreName)
	require.NotNil(t, res.Items[0].StoreCoord)
	assert.InDelta(t, 6.9147, res.Items[0].StoreCoord.Lat, 1e-9)
	assert.Nil(t, res.Items[1].StoreCoord)

	res, err = m.Search(ctx, "red apple juice")
	require.NoError(t, err)
	assert.Equal(t, TierKeyword, res.Tier)
	assert.Len(t, res.Items, 3)

	res, err = m.Search(ctx, "quinoa")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Len(t, res.Items, DefaultFallbackLimit)
	assert.Equal(t, "i01", res.Items[0].ID)
}

func TestSQLSourceEscapesWildcards(t *testing.T) {
	src := seedSQL(t)
	items, err := src.SearchSubstring(context.Background(), "100%", 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = src.SearchSubstring(context.Background(), "_", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSQLSourceUpsertUpdates(t *testing.T) {
	src := seedSQL(t)
	ctx := context.Background()
	require.NoError(t, src.UpsertItem(ctx, Item{ID: "i01", Name: "Fresh Milk 2L", Price: 800, StoreRef: "s1"}))
	items, err := src.SearchSubstring(ctx, "2l", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 800.0, items[0].Price)
	assert.Equal(t, "in_stock", items[0].StockStatus)
}
