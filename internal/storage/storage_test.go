package storage

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "0x1111111111111111111111111111111111111111"

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func eth(s string) *big.Int {
	w, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei literal: " + s)
	}
	return w
}

func TestUpsertWallet(t *testing.T) {
	s := newTestStorage(t)

	w, err := s.UpsertWallet(testAddr, eth("10000000000000000"), eth("1000000000000000"), big.NewInt(0), false)
	require.NoError(t, err)
	assert.Equal(t, testAddr, w.Address)
	assert.True(t, w.Active)
	assert.Equal(t, "0", w.LastBalance.String())
	assert.Equal(t, "10000000000000000", w.AlertThreshold.String())
	assert.False(t, w.ForwardingEnabled)
	assert.Nil(t, w.LastChecked)

	// Re-registering reactivates and refreshes thresholds, but never
	// resets the observed balance.
	require.NoError(t, s.SetWalletActive(testAddr, false))
	_, err = s.RecordObservation(testAddr, eth("1000000000000000000"), eth("1000000000000000000"), time.Now())
	require.NoError(t, err)

	w, err = s.UpsertWallet(testAddr, eth("50000000000000000"), eth("2000000000000000"), eth("10000000000000000"), true)
	require.NoError(t, err)
	assert.True(t, w.Active)
	assert.Equal(t, "50000000000000000", w.AlertThreshold.String())
	assert.Equal(t, "2000000000000000", w.MinForward.String())
	assert.Equal(t, "10000000000000000", w.RetainedThreshold.String())
	assert.True(t, w.ForwardingEnabled)
	assert.Equal(t, "1000000000000000000", w.LastBalance.String())

	all, err := s.GetAllWallets()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetWalletNotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.GetWallet("0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetActiveWallets(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.UpsertWallet(testAddr, nil, nil, nil, false)
	require.NoError(t, err)
	other := "0x2222222222222222222222222222222222222222"
	_, err = s.UpsertWallet(other, nil, nil, nil, false)
	require.NoError(t, err)

	require.NoError(t, s.SetWalletActive(other, false))

	active, err := s.GetActiveWallets()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, testAddr, active[0].Address)

	all, err := s.GetAllWallets()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetWalletActiveNotFound(t *testing.T) {
	s := newTestStorage(t)
	err := s.SetWalletActive("0xmissing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchWallet(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.UpsertWallet(testAddr, nil, nil, nil, false)
	require.NoError(t, err)

	at := time.Now().Truncate(time.Second)
	require.NoError(t, s.TouchWallet(testAddr, at))

	w, err := s.GetWallet(testAddr)
	require.NoError(t, err)
	require.NotNil(t, w.LastChecked)
	assert.Equal(t, at.Unix(), w.LastChecked.Unix())
	assert.Equal(t, "0", w.LastBalance.String())
}

func TestRecordObservation(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.UpsertWallet(testAddr, nil, nil, nil, false)
	require.NoError(t, err)

	at := time.Now().Truncate(time.Second)
	id, err := s.RecordObservation(testAddr, eth("1050000000000000000"), eth("50000000000000000"), at)
	require.NoError(t, err)
	require.NotZero(t, id)

	// Both the snapshot and the wallet update land together.
	w, err := s.GetWallet(testAddr)
	require.NoError(t, err)
	assert.Equal(t, "1050000000000000000", w.LastBalance.String())
	require.NotNil(t, w.LastChecked)
	assert.Equal(t, at.Unix(), w.LastChecked.Unix())

	snap, err := s.GetSnapshot(id)
	require.NoError(t, err)
	assert.Equal(t, testAddr, snap.Address)
	assert.Equal(t, "1050000000000000000", snap.Balance.String())
	assert.Equal(t, "50000000000000000", snap.Change.String())
	assert.False(t, snap.NotificationSent)
}

func TestRecordObservationUnknownWallet(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.RecordObservation("0xmissing", eth("1"), eth("1"), time.Now())
	require.ErrorIs(t, err, ErrNotFound)

	// The snapshot insert must have rolled back with the failed update.
	history, err := s.ListHistory("0xmissing", time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMarkNotificationSent(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.UpsertWallet(testAddr, nil, nil, nil, false)
	require.NoError(t, err)

	id, err := s.RecordObservation(testAddr, eth("1000000000000000000"), eth("1000000000000000000"), time.Now())
	require.NoError(t, err)

	require.NoError(t, s.MarkNotificationSent(id))

	snap, err := s.GetSnapshot(id)
	require.NoError(t, err)
	assert.True(t, snap.NotificationSent)
}

func TestListHistory(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.UpsertWallet(testAddr, nil, nil, nil, false)
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 3; i++ {
		_, err := s.RecordObservation(testAddr, big.NewInt(int64(i+1)), big.NewInt(1), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	// Oldest first, filtered by the since bound.
	history, err := s.ListHistory(testAddr, base.Add(30*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2", history[0].Balance.String())
	assert.Equal(t, "3", history[1].Balance.String())

	limited, err := s.ListHistory(testAddr, time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestInsertTransactionDedup(t *testing.T) {
	s := newTestStorage(t)

	block := int64(19000000)
	rec := &TransactionRecord{
		Hash:        "0xdeadbeef",
		Address:     testAddr,
		From:        "0xsender",
		To:          testAddr,
		Value:       eth("50000000000000000"),
		GasUsed:     21000,
		IsIncoming:  true,
		BlockNumber: &block,
		Timestamp:   time.Now().Truncate(time.Second),
	}

	fresh, err := s.InsertTransaction(rec)
	require.NoError(t, err)
	assert.True(t, fresh)

	// Same hash again is silently ignored.
	again, err := s.InsertTransaction(rec)
	require.NoError(t, err)
	assert.False(t, again)

	seen, err := s.HasTransaction("0xdeadbeef")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.HasTransaction("0xunknown")
	require.NoError(t, err)
	assert.False(t, seen)

	list, err := s.ListTransactions(testAddr, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0xdeadbeef", list[0].Hash)
	assert.Equal(t, "50000000000000000", list[0].Value.String())
	require.NotNil(t, list[0].BlockNumber)
	assert.Equal(t, block, *list[0].BlockNumber)
}

func TestInsertTransactionPendingBlock(t *testing.T) {
	s := newTestStorage(t)

	fresh, err := s.InsertTransaction(&TransactionRecord{
		Hash:      "0xpending",
		Address:   testAddr,
		From:      testAddr,
		To:        "0xreceiver",
		Value:     eth("989500000000000000"),
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, fresh)

	list, err := s.ListTransactions(testAddr, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].BlockNumber)
	assert.False(t, list[0].IsIncoming)
}

func TestTelegramConfig(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetTelegramConfig()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetTelegramConfig("token-one", "chat-one"))

	cfg, err := s.GetTelegramConfig()
	require.NoError(t, err)
	assert.Equal(t, "token-one", cfg.BotToken)
	assert.Equal(t, "chat-one", cfg.ChatID)
	assert.True(t, cfg.Active)

	// Replacing deactivates the previous channel.
	require.NoError(t, s.SetTelegramConfig("token-two", "chat-two"))

	cfg, err = s.GetTelegramConfig()
	require.NoError(t, err)
	assert.Equal(t, "token-two", cfg.BotToken)
	assert.Equal(t, "chat-two", cfg.ChatID)
}
