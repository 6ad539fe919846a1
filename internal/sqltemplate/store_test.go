package sqltemplate

import (
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

type failingStore struct{}

func (failingStore) Load(string, string, string) (string, error) {
	return "", errors.New("disk on fire")
}

func TestTemplatePath(t *testing.T) {
	assert.Equal(t, "rdb/v1.3/station.sql", TemplatePath("RDB", "1.3", "station"))
	assert.Equal(t, "agg_rdb/v1.3/agg_hh.sql", TemplatePath("AGG_RDB", "1.3", "agg_hh"))
}

func TestFSStore_Load(t *testing.T) {
	s := NewFSStore(fstest.MapFS{"rdb/v1.0/trip.sql": {Data: []byte("SELECT 1")}})

	text, err := s.Load("RDB", "1.0", "trip")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", text)

	_, err = s.Load("RDB", "1.0", "station")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestChain_Load(t *testing.T) {
	override := NewFSStore(fstest.MapFS{"rdb/v1.0/trip.sql": {Data: []byte("SELECT 'override'")}})
	embedded := NewFSStore(fstest.MapFS{
		"rdb/v1.0/trip.sql":    {Data: []byte("SELECT 'embedded'")},
		"rdb/v1.0/station.sql": {Data: []byte("SELECT 'station'")},
	})
	chain := Chain{override, embedded}

	text, err := chain.Load("RDB", "1.0", "trip")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 'override'", text)

	text, err = chain.Load("RDB", "1.0", "station")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 'station'", text)

	_, err = chain.Load("RDB", "1.0", "landing")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = Chain{failingStore{}, embedded}.Load("RDB", "1.0", "trip")
	require.Error(t, err)
	assert.False(t, errors.As(err, &nf))
}

func TestBindHelpers(t *testing.T) {
	assert.Equal(t, "'O''Brien'", Literal("O'Brien"))
	assert.Equal(t, `"p01_tr_1"`, Ident("p01_tr_1"))
	assert.Equal(t, "1, 'FRA', '007'", InList([]string{"1", "FRA", "007"}))
	assert.Equal(t, "NULL", InList(nil))
	assert.Equal(t, "'1', 'FRA'", StringList([]string{"1", "FRA"}))
	assert.Equal(t, "NULL", StringList(nil))

	ts := time.Date(2020, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	assert.Equal(t, "TIMESTAMP '2020-03-04 04:06:07'", Timestamp(ts))
}
