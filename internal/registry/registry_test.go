package registry

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderlane/webhook-engine/internal/apperrors"
	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/store"
)

func newRegistry() (*Registry, *store.Store) {
	s := store.NewMemory()
	return New(s.Subscriptions), s
}

func validInput() CreateInput {
	return CreateInput{
		Name:      "order hooks",
		TargetURL: "https://example.com/hooks",
		Events:    []event.Kind{event.OrderCreated},
	}
}

func TestCreateDefaultsAndSecret(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry()

	sub, err := r.Create(ctx, "t1", validInput())
	require.NoError(t, err)

	assert.True(t, sub.IsActive)
	assert.Equal(t, 3, sub.MaxRetries)
	assert.Equal(t, 30, sub.TimeoutSeconds)

	raw, err := base64.StdEncoding.DecodeString(sub.Secret)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(raw), 32)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry()

	in := validInput()
	in.Events = nil
	_, err := r.Create(ctx, "t1", in)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	in = validInput()
	in.TargetURL = "not-a-url"
	_, err = r.Create(ctx, "t1", in)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	in = validInput()
	zero := 0
	in.TimeoutSeconds = &zero
	_, err = r.Create(ctx, "t1", in)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUpdateMergesOnlyProvidedFields(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry()
	sub, err := r.Create(ctx, "t1", validInput())
	require.NoError(t, err)

	name := "renamed"
	updated, err := r.Update(ctx, "t1", sub.ID, store.SubscriptionPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, sub.TargetURL, updated.TargetURL)
	assert.Equal(t, sub.Events, updated.Events)

	// a patch cannot empty the event set
	_, err = r.Update(ctx, "t1", sub.ID, store.SubscriptionPatch{Events: []event.Kind{}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = r.Update(ctx, "t1", uuid.New(), store.SubscriptionPatch{Name: &name})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestToggleAndDelete(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry()
	sub, err := r.Create(ctx, "t1", validInput())
	require.NoError(t, err)

	toggled, err := r.Toggle(ctx, "t1", sub.ID, false)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)

	require.NoError(t, r.Delete(ctx, "t1", sub.ID))
	assert.ErrorIs(t, r.Delete(ctx, "t1", sub.ID), apperrors.ErrNotFound)
}

func TestRegenerateSecret(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry()
	sub, err := r.Create(ctx, "t1", validInput())
	require.NoError(t, err)

	newSecret, err := r.RegenerateSecret(ctx, "t1", sub.ID)
	require.NoError(t, err)
	assert.NotEqual(t, sub.Secret, newSecret)

	got, err := r.Get(ctx, "t1", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, newSecret, got.Secret)

	_, err = r.RegenerateSecret(ctx, "t1", uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry()
	sub, err := r.Create(ctx, "t1", validInput())
	require.NoError(t, err)

	_, err = r.Get(ctx, "t2", sub.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
