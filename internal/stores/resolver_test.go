package stores

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-finder/internal/geo"
	"product-finder/internal/migrate"
	"product-finder/internal/places"
	"product-finder/internal/utils"
)

type fakeSearcher struct {
	calls  int
	last   places.Query
	result []places.Place
	err    error
}

func (f *fakeSearcher) Search(ctx context.Context, q places.Query) ([]places.Place, error) {
	f.calls++
	f.last = q
	return f.result, f.err
}

func colomboStores() []Record {
	return []Record{
		{ID: "s1", Name: "Keells Kollupitiya", Address: "Galle Rd", Coord: &geo.Coordinate{Lat: 6.9147, Lon: 79.8531}},
		{ID: "s2", Name: "Keells Union Place", Address: "Union Pl", Coord: &geo.Coordinate{Lat: 6.9185, Lon: 79.8612}},
		{ID: "s3", Name: "Cargills Kandy", Address: "Dalada Vidiya", Coord: &geo.Coordinate{Lat: 7.2936, Lon: 80.6350}},
		{ID: "s4", Name: "Arpico Hyde Park", Address: "Hyde Park Corner"},
	}
}

func newResolver(t *testing.T, fs *fakeSearcher) *Resolver {
	t.Helper()
	opts := []ResolverOption{}
	if fs != nil {
		opts = append(opts, WithPlaceSearch(fs, 0))
	}
	r, err := NewResolver(NewMemoryDirectory(colomboStores()...), opts...)
	require.NoError(t, err)
	return r
}

func TestNewResolverRequiresDirectory(t *testing.T) {
	_, err := NewResolver(nil)
	assert.ErrorIs(t, err, ErrDirectoryRequired)
}

func TestResolveExactCoordinate(t *testing.T) {
	fs := &fakeSearcher{}
	r := newResolver(t, fs)
	rec, err := r.Resolve(context.Background(), "anything", &geo.Coordinate{Lat: 6.9185, Lon: 79.8612})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "s2", rec.ID)
	assert.Zero(t, fs.calls)
}

func TestResolveNearestWithinRadius(t *testing.T) {
	r := newResolver(t, nil)
	rec, err := r.Resolve(context.Background(), "", &geo.Coordinate{Lat: 6.9150, Lon: 79.8540})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "s1", rec.ID)
}

func TestResolveNearestOutsideRadiusFallsToName(t *testing.T) {
	fs := &fakeSearcher{}
	r := newResolver(t, fs)
	rec, err := r.Resolve(context.Background(), "hyde park", &geo.Coordinate{Lat: 7.0, Lon: 80.0})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "s4", rec.ID)
	assert.Nil(t, rec.Coord)
	assert.Zero(t, fs.calls)
}

func TestResolveSubstringKeepsSourceOrder(t *testing.T) {
	r := newResolver(t, nil)
	rec, err := r.Resolve(context.Background(), "KEELLS", nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "s1", rec.ID)
}

func TestResolvePlaceSearchFallback(t *testing.T) {
	fs := &fakeSearcher{result: []places.Place{
		{ID: "abc", Name: "Food City Wellawatte", Address: "Galle Rd, Colombo 06", Coord: geo.Coordinate{Lat: 6.874, Lon: 79.86}},
		{ID: "def", Name: "Food City Dehiwala"},
	}}
	r := newResolver(t, fs)
	hint := &geo.Coordinate{Lat: 6.87, Lon: 79.87}
	rec, err := r.Resolve(context.Background(), "food city", hint)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "place:abc", rec.ID)
	assert.Equal(t, "Galle Rd, Colombo 06", rec.Address)
	require.NotNil(t, rec.Coord)
	assert.Equal(t, 1, fs.calls)
	assert.Equal(t, "food city", fs.last.Text)
	assert.Equal(t, hint, fs.last.Bias)
	assert.Equal(t, places.DefaultRadiusM, fs.last.RadiusM)
}

func TestResolvePlaceSearchEmpty(t *testing.T) {
	fs := &fakeSearcher{}
	r := newResolver(t, fs)
	rec, err := r.Resolve(context.Background(), "no such shop", nil)
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 1, fs.calls)
}

func TestResolvePlaceSearchFailure(t *testing.T) {
	fs := &fakeSearcher{err: errors.Join(places.ErrPlaceSearchFailed, errors.New("OVER_QUERY_LIMIT"))}
	r := newResolver(t, fs)
	_, err := r.Resolve(context.Background(), "no such shop", nil)
	assert.ErrorIs(t, err, places.ErrPlaceSearchFailed)
}

func TestResolveNothingWithoutSearcher(t *testing.T) {
	r := newResolver(t, nil)
	rec, err := r.Resolve(context.Background(), "no such shop", nil)
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestNearestStrictMinimum(t *testing.T) {
	all := []Record{
		{ID: "far", Coord: &geo.Coordinate{Lat: 6.93, Lon: 79.85}},
		{ID: "a", Coord: &geo.Coordinate{Lat: 6.9101, Lon: 79.85}},
		{ID: "b", Coord: &geo.Coordinate{Lat: 6.9101, Lon: 79.85}},
		{ID: "none"},
	}
	rec, d := nearest(all, geo.Coordinate{Lat: 6.91, Lon: 79.85})
	require.NotNil(t, rec)
	assert.Equal(t, "a", rec.ID)
	assert.Less(t, d, 0.1)

	rec, _ = nearest([]Record{{ID: "none"}}, geo.Coordinate{})
	assert.Nil(t, rec)
}

func TestSQLDirectory(t *testing.T) {
	db, err := utils.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	require.NoError(t, migrate.EnsureSchema(ctx, db))

	dir := NewSQLDirectory(db)
	for _, rec := range colomboStores() {
		require.NoError(t, dir.Upsert(ctx, rec, ""))
	}
	moved := colomboStores()[0]
	moved.Address = "Galle Rd, Colombo 03"
	require.NoError(t, dir.Upsert(ctx, moved, "abc"))

	all, err := dir.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Galle Rd, Colombo 03", all[0].Address)
	assert.Nil(t, all[3].Coord)

	r, err := NewResolver(dir)
	require.NoError(t, err)
	rec, err := r.Resolve(ctx, "", &geo.Coordinate{Lat: 6.9147, Lon: 79.8531})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "s1", rec.ID)
}
