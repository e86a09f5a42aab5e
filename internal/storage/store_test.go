package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contradeploy/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testStore runs the behaviour every Store implementation shares.
func testStore(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations must be idempotent")

	run := &Run{Network: "kovan", ChainID: 42, Account: "0x00000000000000000000000000000000000000ee"}
	require.NoError(t, store.CreateRun(ctx, run))
	require.NotEmpty(t, run.ID)
	require.NotEmpty(t, run.StartedAt)

	t.Run("GetRun", func(t *testing.T) {
		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, RunRunning, got.Status)
		assert.Equal(t, int64(42), got.ChainID)
		assert.Equal(t, "kovan", got.Network)
		assert.Empty(t, got.FinishedAt)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		_, err := store.GetRun(ctx, generateID())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Deployments", func(t *testing.T) {
		for _, d := range []Deployment{
			{Contract: "SafeDecimalMath", Address: "0x01", Fresh: true, TxHash: "0xaa"},
			{Contract: "ExchangeRates", Address: "0x02"},
			{Contract: "Proxy.FeePool", Address: "0x03", Fresh: true, TxHash: "0xbb"},
		} {
			d.RunID = run.ID
			require.NoError(t, store.RecordDeployment(ctx, &d))
		}

		got, err := store.ListDeployments(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "SafeDecimalMath", got[0].Contract)
		assert.True(t, got[0].Fresh)
		assert.False(t, got[1].Fresh)
		assert.Equal(t, "Proxy.FeePool", got[2].Contract)
		assert.Equal(t, "0xbb", got[2].TxHash)

		dup := Deployment{RunID: run.ID, Contract: "ExchangeRates", Address: "0x09"}
		assert.Error(t, store.RecordDeployment(ctx, &dup))
	})

	t.Run("WiringCalls", func(t *testing.T) {
		require.NoError(t, store.RecordWiringCall(ctx, &WiringCall{RunID: run.ID, Step: "Proxy.FeePool.setTarget", Status: "invoked", TxHash: "0xcc"}))
		require.NoError(t, store.RecordWiringCall(ctx, &WiringCall{RunID: run.ID, Step: "Depot.setSynthetix", Status: "skipped"}))

		got, err := store.ListWiringCalls(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "Proxy.FeePool.setTarget", got[0].Step)
		assert.Equal(t, "skipped", got[1].Status)
	})

	t.Run("Verifications", func(t *testing.T) {
		require.NoError(t, store.RecordVerification(ctx, &Verification{RunID: run.ID, Contract: "ExchangeRates", Address: "0x02", Outcome: "skipped", Reason: "exempt from verification"}))
		require.NoError(t, store.RecordVerification(ctx, &Verification{RunID: run.ID, Contract: "FeePool", Address: "0x04", Outcome: "newly-verified", GUID: "abc"}))

		got, err := store.ListVerifications(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "exempt from verification", got[0].Reason)
		assert.Equal(t, "abc", got[1].GUID)
	})

	t.Run("FinishRun", func(t *testing.T) {
		require.NoError(t, store.FinishRun(ctx, run.ID, RunFailed, "transaction failed"))
		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, RunFailed, got.Status)
		assert.Equal(t, "transaction failed", got.Error)
		assert.NotEmpty(t, got.FinishedAt)

		assert.ErrorIs(t, store.FinishRun(ctx, generateID(), RunSucceeded, ""), ErrNotFound)
	})

	t.Run("ListRuns", func(t *testing.T) {
		for range 3 {
			require.NoError(t, store.CreateRun(ctx, &Run{Network: "mainnet", ChainID: 1, Account: "0x01"}))
		}

		page, err := store.ListRuns(ctx, PaginationParams{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, page.Data, 3)
		assert.True(t, page.HasMore)
		assert.Equal(t, "mainnet", page.Data[0].Network, "most recent first")

		page, err = store.ListRuns(ctx, PaginationParams{Limit: 3, Offset: 3})
		require.NoError(t, err)
		require.Len(t, page.Data, 1)
		assert.False(t, page.HasMore)
		assert.Equal(t, run.ID, page.Data[0].ID)
	})
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "history.db"), testLogger())
	require.NoError(t, err)
	defer store.Close()

	testStore(t, store)
}

func TestNew(t *testing.T) {
	store, err := New(config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "history.db")},
	}, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = New(config.StorageConfig{Type: "etcd"}, testLogger())
	assert.ErrorContains(t, err, "unknown storage type")
}

func TestDollarPlaceholders(t *testing.T) {
	assert.Equal(t, "SELECT 1", dollarPlaceholders("SELECT 1"))
	assert.Equal(t,
		"UPDATE runs SET status = $1, error = $2 WHERE id = $3",
		dollarPlaceholders("UPDATE runs SET status = ?, error = ? WHERE id = ?"))
}

func TestGenerateID(t *testing.T) {
	a, b := generateID(), generateID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
