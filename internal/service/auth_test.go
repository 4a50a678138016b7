package service

import (
	"context"
	"testing"

	"mentor-crm/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestLogin(t *testing.T) {
	db := newTestDB(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	require.NoError(t, err)
	require.NoError(t, db.Create(&model.Admin{Username: "coach", Password: string(hash)}).Error)
	svc := NewAuthService(db)

	a, err := svc.Login(context.Background(), "coach", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "coach", a.Username)

	_, err = svc.Login(context.Background(), "coach", "wrong")
	assert.ErrorContains(t, err, "wrong password")

	_, err = svc.Login(context.Background(), "nobody", "s3cret")
	assert.ErrorContains(t, err, "not found")
}

func TestSettingsDefaultsAndValidation(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettingsService(db)
	ctx := context.Background()

	settings, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 21, settings.QuietStartHour)
	assert.Equal(t, 8, settings.QuietEndHour)
	assert.Equal(t, 2, settings.ChurnWeeks)
	assert.Equal(t, 4, settings.DangerWeeks)

	settings.ChurnWeeks = 4
	_, err = svc.Update(ctx, settings)
	assert.ErrorContains(t, err, "below danger threshold")

	settings.ChurnWeeks = 3
	settings.FeedbackMinDelayMin = 200
	_, err = svc.Update(ctx, settings)
	assert.ErrorContains(t, err, "delay bounds")

	settings.FeedbackMinDelayMin = 60
	saved, err := svc.Update(ctx, settings)
	require.NoError(t, err)
	assert.Equal(t, 3, saved.ChurnWeeks)

	again, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, again.ChurnWeeks)
}

func TestSettingsZeroQuietWindowPersists(t *testing.T) {
	db := newTestDB(t)
	svc := NewSettingsService(db)
	ctx := context.Background()

	settings, err := svc.Get(ctx)
	require.NoError(t, err)

	// start == end disables quiet hours; both zeros must survive the
	// round trip instead of snapping back to the defaults
	settings.QuietStartHour = 0
	settings.QuietEndHour = 0
	_, err = svc.Update(ctx, settings)
	require.NoError(t, err)

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Zero(t, got.QuietStartHour)
	assert.Zero(t, got.QuietEndHour)
}
