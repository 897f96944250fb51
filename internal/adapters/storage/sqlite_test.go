package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/liquidator/internal/adapters/storage"
	"github.com/alejandrodnm/liquidator/internal/domain"
)

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

func makeAttempt(ob byte, started time.Time, sig string) domain.LiquidationAttempt {
	return domain.LiquidationAttempt{
		Market:          key(1),
		Obligation:      key(ob),
		Pass:            2,
		RepayReserve:    key(10),
		RepaySymbol:     "USDC",
		WithdrawReserve: key(11),
		WithdrawSymbol:  "SOL",
		Amount:          5_000_000,
		FlashAmount:     6_500_000,
		Signature:       sig,
		Profit:          -42,
		StartedAt:       started,
		Duration:        1500 * time.Millisecond,
	}
}

func TestSQLiteStorage_SaveAndRecentAttempts(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, db.SaveAttempt(ctx, makeAttempt(50, now.Add(-2*time.Second), "sig-old")))
	failed := makeAttempt(51, now.Add(-time.Second), "")
	failed.Error = "simulation failed"
	require.NoError(t, db.SaveAttempt(ctx, failed))

	got, err := db.RecentAttempts(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)

	// newest first
	assert.Equal(t, key(51), got[0].Obligation)
	assert.Equal(t, "simulation failed", got[0].Error)
	assert.False(t, got[0].Succeeded())

	old := got[1]
	assert.NotEmpty(t, old.ID, "id assigned on insert")
	assert.Equal(t, key(1), old.Market)
	assert.Equal(t, key(10), old.RepayReserve)
	assert.Equal(t, "SOL", old.WithdrawSymbol)
	assert.Equal(t, uint64(6_500_000), old.FlashAmount)
	assert.Equal(t, int64(-42), old.Profit)
	assert.Equal(t, 2, old.Pass)
	assert.Equal(t, 1500*time.Millisecond, old.Duration)
	assert.True(t, old.StartedAt.Equal(now.Add(-2*time.Second)))
	assert.True(t, old.Succeeded())
}

func TestSQLiteStorage_RecentAttempts_EmptyRange(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.SaveAttempt(ctx, makeAttempt(50, time.Now().Add(-time.Hour), "sig")))

	got, err := db.RecentAttempts(ctx, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStorage_DuplicateIDRejected(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	a := makeAttempt(50, time.Now(), "sig")
	a.ID = "fixed"
	require.NoError(t, db.SaveAttempt(context.Background(), a))
	require.Error(t, db.SaveAttempt(context.Background(), a))
}

func TestSQLiteStorage_SaveEpoch(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, db.SaveEpoch(ctx, domain.EpochSummary{
			Epoch:       i,
			StartedAt:   time.Now(),
			Duration:    time.Second,
			Markets:     2,
			Obligations: 120,
			Skipped:     i == 2,
		}))
	}

	n, err := db.EpochCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
