package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	config := DefaultConfig()
	config.Clock = subhook.FixedClock{FixedTime: testNow}
	storage, err := New(setupTestRedis(t), config)
	require.NoError(t, err)
	return storage
}

func TestNew(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	s, err := New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), Config{})
	require.NoError(t, err)
	assert.Equal(t, "subhook:", s.config.KeyPrefix)
	assert.Equal(t, "subhook:profile:u1", s.profileKey("u1"))
	assert.Equal(t, "subhook:event:evt_1", s.eventKey("evt_1"))
}

func TestUpdateArgs(t *testing.T) {
	end := testNow.Add(24 * time.Hour)
	args := updateArgs(subhook.ProfileUpdate{
		Status:                subhook.Value(subhook.StatusCanceled),
		StripeSubscriptionID:  subhook.Null[string](),
		SubscriptionPeriodEnd: subhook.Value(end),
		MarkTrialUsed:         true,
	}, testNow)

	assert.Equal(t, []interface{}{
		fieldStatus, "canceled",
		fieldStripeSubscriptionID, "",
		fieldSubscriptionPeriodEnd, "2024-03-02T12:00:00Z",
		fieldTrialUsed, "1",
		fieldUpdatedAt, "2024-03-01T12:00:00Z",
	}, args)
}

func TestDecodeProfile(t *testing.T) {
	p, err := decodeProfile("u1", map[string]string{
		fieldStatus:                "trialing",
		fieldTier:                  "premium",
		fieldStripeSubscriptionID:  "sub_1",
		fieldSubscriptionPeriodEnd: "2024-04-01T00:00:00Z",
		fieldTrialUsed:             "1",
	})
	require.NoError(t, err)
	assert.Equal(t, subhook.StatusTrialing, p.SubscriptionStatus)
	assert.Equal(t, subhook.TierPremium, p.SubscriptionTier)
	assert.Equal(t, "sub_1", *p.StripeSubscriptionID)
	assert.True(t, p.TrialUsed)
	assert.Nil(t, p.TrialStartedAt)

	_, err = decodeProfile("u1", map[string]string{fieldTrialStartedAt: "yesterday"})
	assert.Error(t, err)
}

func TestStorage_UpdateByID(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	subID := "sub_1"
	require.NoError(t, storage.PutProfile(ctx, &subhook.UserProfile{
		ID:                   "u1",
		SubscriptionStatus:   subhook.StatusActive,
		SubscriptionTier:     subhook.TierPremium,
		StripeSubscriptionID: &subID,
		TrialUsed:            true,
	}))

	require.NoError(t, storage.UpdateByID(ctx, "u1", subhook.ProfileUpdate{
		Status:               subhook.Value(subhook.StatusCanceled),
		Tier:                 subhook.Value(subhook.TierFree),
		StripeSubscriptionID: subhook.Null[string](),
	}))

	p, err := storage.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, subhook.StatusCanceled, p.SubscriptionStatus)
	assert.Equal(t, subhook.TierFree, p.SubscriptionTier)
	assert.Nil(t, p.StripeSubscriptionID)
	assert.True(t, p.TrialUsed)
	assert.Equal(t, testNow, p.UpdatedAt)
}

func TestStorage_UpdateByID_NotFound(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	err := storage.UpdateByID(ctx, "ghost", subhook.ProfileUpdate{Status: subhook.Value(subhook.StatusActive)})
	assert.ErrorIs(t, err, subhook.ErrProfileNotFound)

	exists, err := storage.client.Exists(ctx, storage.profileKey("ghost")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "updates never create profiles")
}

func TestStorage_EventLog(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	rec, err := storage.FindByEventID(ctx, "evt_1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	userID := "u1"
	require.NoError(t, storage.Insert(ctx, &subhook.ProcessedEventRecord{
		EventID:   "evt_1",
		EventType: "invoice.payment_failed",
		UserID:    &userID,
		Payload:   json.RawMessage(`{"id":"evt_1"}`),
	}))
	assert.ErrorIs(t, storage.Insert(ctx, &subhook.ProcessedEventRecord{EventID: "evt_1"}), subhook.ErrEventAlreadyRecorded)

	rec, err = storage.FindByEventID(ctx, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "invoice.payment_failed", rec.EventType)
	assert.Equal(t, testNow, rec.ProcessedAt)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(rec.Payload))
}

func TestStorage_EventTTL(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, Config{KeyPrefix: "ttl:", EventTTL: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, storage.Insert(ctx, &subhook.ProcessedEventRecord{EventID: "evt_ttl", EventType: "x"}))
	ttl, err := client.TTL(ctx, storage.eventKey("evt_ttl")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestStorage_ConcurrentClaimsSingleWinner(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	firstSeen := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := subhook.ClaimEvent(ctx, storage, &subhook.ProcessedEventRecord{EventID: "evt_race", EventType: "x"})
			assert.NoError(t, err)
			if res == subhook.ClaimFirstSeen {
				mu.Lock()
				firstSeen++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, firstSeen)
}
