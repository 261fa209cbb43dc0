package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/mihaimyh/subhook/pkg/subhook"
)

func TestBuildUpdate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(30 * 24 * time.Hour)

	query, args := buildUpdate(`"profiles"`, "u1", subhook.ProfileUpdate{
		Status:                subhook.Value(subhook.StatusTrialing),
		Tier:                  subhook.Value(subhook.TierPremium),
		StripeSubscriptionID:  subhook.Null[string](),
		SubscriptionPeriodEnd: subhook.Value(end),
		MarkTrialUsed:         true,
	}, now)

	assert.Equal(t,
		`UPDATE "profiles" SET subscription_status = $1, subscription_tier = $2, stripe_subscription_id = $3, `+
			`subscription_period_end = $4, trial_used = TRUE, updated_at = $5 WHERE id = $6`,
		query)
	assert.Len(t, args, 6)
	assert.Equal(t, "trialing", args[0])
	assert.Equal(t, "premium", args[1])
	assert.Nil(t, args[2].(*string), "cleared column binds NULL")
	assert.Equal(t, end, *args[3].(*time.Time))
	assert.Equal(t, now, args[4])
	assert.Equal(t, "u1", args[5])
}

func TestBuildUpdate_StatusOnly(t *testing.T) {
	query, args := buildUpdate(`"profiles"`, "u2", subhook.ProfileUpdate{
		Status: subhook.Value(subhook.StatusPaymentFailed),
	}, time.Unix(0, 0))

	assert.Equal(t, `UPDATE "profiles" SET subscription_status = $1, updated_at = $2 WHERE id = $3`, query)
	assert.Len(t, args, 3)
}

func TestIsUndefinedTable(t *testing.T) {
	assert.True(t, isUndefinedTable(fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01"})))
	assert.False(t, isUndefinedTable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUndefinedTable(errors.New("boom")))
}

func TestPayloadText(t *testing.T) {
	assert.Nil(t, payloadText(nil))
	assert.Nil(t, payloadText(json.RawMessage{}))

	raw := json.RawMessage(`{"note":"a\u0000b"}`)
	got := payloadText(raw)
	if assert.NotNil(t, got) {
		assert.Equal(t, `{"note":"a\u0000b"}`, *got)
	}
}
