package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/brandsight/adharvest/internal/harvest"
)

func TestPromoteInsertsNewRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "canonical_sightings")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	sighting := harvest.CanonicalSighting{
		ContentHash:  "abc123",
		AdvertiserID: "acme.example",
		FirstSeen:    now,
		LastSeen:     now,
		SeenCount:    1,
		ChannelID:    "searchco",
		Payload: harvest.CreativePayload{
			Text:        "Buy shoes",
			Destination: "https://acme.example",
		},
	}

	mock.ExpectQuery("INSERT INTO canonical_sightings").
		WithArgs(
			sighting.ContentHash,
			sighting.AdvertiserID,
			sighting.FirstSeen,
			sighting.LastSeen,
			sighting.SeenCount,
			sighting.ChannelID,
			[]byte(`{"text":"Buy shoes","destination":"https://acme.example"}`),
		).
		WillReturnRows(pgxmock.NewRows([]string{"created"}).AddRow(true))

	created, err := store.Promote(context.Background(), sighting)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteRediscoveryReportsNotCreated(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "canonical_sightings")
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO canonical_sightings").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnRows(pgxmock.NewRows([]string{"created"}).AddRow(false))

	created, err := store.Promote(context.Background(), harvest.CanonicalSighting{
		ContentHash: "abc123",
		LastSeen:    time.Unix(1700003600, 0).UTC(),
	})
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "canonical_sightings")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT content_hash").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"content_hash", "advertiser_id", "first_seen_at", "last_seen_at", "seen_count", "channel_id", "creative_payload",
		}))

	_, ok, err := store.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad;table")
	require.Error(t, err)
}
