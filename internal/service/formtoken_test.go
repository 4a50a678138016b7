package service

import (
	"context"
	"testing"
	"time"

	"mentor-crm/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndConsumeToken(t *testing.T) {
	db := newTestDB(t)
	svc := NewFormTokenService(db, time.UTC)
	ctx := context.Background()
	m := seedActiveMember(t, db, "mara@example.com", "")

	tok, err := svc.Mint(ctx, m.ID, model.PurposeWeeklyKpi, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.WithinDuration(t, time.Now().Add(72*time.Hour), tok.ExpiresAt, time.Minute)

	got, err := svc.Consume(ctx, tok.Token, model.PurposeWeeklyKpi)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.MemberID)
	require.NotNil(t, got.UsedAt)
}

func TestConsumeTokenOnlyOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewFormTokenService(db, time.UTC)
	ctx := context.Background()
	m := seedActiveMember(t, db, "mara@example.com", "")

	tok, err := svc.Mint(ctx, m.ID, model.PurposeOnboarding, time.Hour)
	require.NoError(t, err)

	_, err = svc.Consume(ctx, tok.Token, model.PurposeOnboarding)
	require.NoError(t, err)

	_, err = svc.Consume(ctx, tok.Token, model.PurposeOnboarding)
	assert.ErrorContains(t, err, "already used")
}

func TestConsumeTokenPurposeMismatch(t *testing.T) {
	db := newTestDB(t)
	svc := NewFormTokenService(db, time.UTC)
	ctx := context.Background()
	m := seedActiveMember(t, db, "mara@example.com", "")

	tok, err := svc.Mint(ctx, m.ID, model.PurposeKpiSetup, time.Hour)
	require.NoError(t, err)

	_, err = svc.Consume(ctx, tok.Token, model.PurposeWeeklyKpi)
	assert.ErrorContains(t, err, "purpose mismatch")

	// the mismatch must not burn the token
	_, err = svc.Consume(ctx, tok.Token, model.PurposeKpiSetup)
	assert.NoError(t, err)
}

func TestConsumeExpiredToken(t *testing.T) {
	db := newTestDB(t)
	svc := NewFormTokenService(db, time.UTC)
	ctx := context.Background()
	m := seedActiveMember(t, db, "mara@example.com", "")

	tok, err := svc.Mint(ctx, m.ID, model.PurposeWeeklyKpi, time.Hour)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = svc.Consume(ctx, tok.Token, model.PurposeWeeklyKpi)
	assert.ErrorContains(t, err, "expired")
}

func TestConsumeUnknownToken(t *testing.T) {
	db := newTestDB(t)
	svc := NewFormTokenService(db, time.UTC)

	_, err := svc.Consume(context.Background(), "not-a-token", model.PurposeWeeklyKpi)
	assert.ErrorContains(t, err, "invalid token")
}

func TestMintRejectsUnknownPurpose(t *testing.T) {
	db := newTestDB(t)
	svc := NewFormTokenService(db, time.UTC)

	_, err := svc.Mint(context.Background(), 1, "password_reset", time.Hour)
	assert.ErrorContains(t, err, "unknown purpose")
}
