// Package registry implements subscription management: validation, secret
// generation, and CRUD over the subscription store. Delivery counters are not
// touched here; those belong to the dispatcher.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/orderlane/webhook-engine/internal/apperrors"
	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/model"
	"github.com/orderlane/webhook-engine/internal/store"
)

const secretBytes = 32

type Registry struct {
	subs store.SubscriptionStore
}

func New(subs store.SubscriptionStore) *Registry {
	return &Registry{subs: subs}
}

// CreateInput carries the management-API create payload. Nil MaxRetries and
// TimeoutSeconds fall back to the defaults.
type CreateInput struct {
	Name           string
	TargetURL      string
	Events         []event.Kind
	Headers        map[string]string
	MaxRetries     *int
	TimeoutSeconds *int
}

// Create validates the input, generates a signing secret, and persists a new
// active subscription. The returned subscription includes the secret; this is
// the only read that does, apart from RegenerateSecret.
func (r *Registry) Create(ctx context.Context, tenantID string, in CreateInput) (*model.Subscription, error) {
	sub := &model.Subscription{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Name:           in.Name,
		TargetURL:      in.TargetURL,
		Events:         in.Events,
		IsActive:       true,
		MaxRetries:     model.DefaultMaxRetries,
		TimeoutSeconds: model.DefaultTimeoutSeconds,
		Headers:        in.Headers,
	}
	if in.MaxRetries != nil {
		sub.MaxRetries = *in.MaxRetries
	}
	if in.TimeoutSeconds != nil {
		sub.TimeoutSeconds = *in.TimeoutSeconds
	}
	if err := sub.Validate(); err != nil {
		return nil, apperrors.Validation("subscription", err.Error())
	}

	secret, err := newSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	sub.Secret = secret

	if err := r.subs.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Update merges only the provided fields. The merged result is re-validated
// so a patch cannot leave an active subscription without events or with a bad
// URL.
func (r *Registry) Update(ctx context.Context, tenantID string, id uuid.UUID, patch store.SubscriptionPatch) (*model.Subscription, error) {
	current, err := r.subs.Get(ctx, tenantID, id)
	if err != nil {
		return nil, r.mapErr(err, id)
	}

	merged := *current
	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.TargetURL != nil {
		merged.TargetURL = *patch.TargetURL
	}
	if patch.Events != nil {
		merged.Events = patch.Events
	}
	if patch.MaxRetries != nil {
		merged.MaxRetries = *patch.MaxRetries
	}
	if patch.TimeoutSeconds != nil {
		merged.TimeoutSeconds = *patch.TimeoutSeconds
	}
	if err := merged.Validate(); err != nil {
		return nil, apperrors.Validation("subscription", err.Error())
	}

	updated, err := r.subs.Update(ctx, tenantID, id, patch)
	if err != nil {
		return nil, r.mapErr(err, id)
	}
	return updated, nil
}

// Toggle flips the active flag without requiring any other field.
func (r *Registry) Toggle(ctx context.Context, tenantID string, id uuid.UUID, active bool) (*model.Subscription, error) {
	sub, err := r.subs.SetActive(ctx, tenantID, id, active)
	if err != nil {
		return nil, r.mapErr(err, id)
	}
	return sub, nil
}

// Delete removes the subscription. Delivery history is retained for audit.
func (r *Registry) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	if err := r.subs.Delete(ctx, tenantID, id); err != nil {
		return r.mapErr(err, id)
	}
	return nil
}

// RegenerateSecret issues a new random secret, atomically replacing the old
// one for all future signing. Already-dispatched payloads keep their original
// signatures.
func (r *Registry) RegenerateSecret(ctx context.Context, tenantID string, id uuid.UUID) (string, error) {
	secret, err := newSecret()
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	if err := r.subs.SetSecret(ctx, tenantID, id, secret); err != nil {
		return "", r.mapErr(err, id)
	}
	return secret, nil
}

// Get returns a snapshot read with no side effects.
func (r *Registry) Get(ctx context.Context, tenantID string, id uuid.UUID) (*model.Subscription, error) {
	sub, err := r.subs.Get(ctx, tenantID, id)
	if err != nil {
		return nil, r.mapErr(err, id)
	}
	return sub, nil
}

// List returns all of a tenant's subscriptions, newest first.
func (r *Registry) List(ctx context.Context, tenantID string) ([]model.Subscription, error) {
	return r.subs.List(ctx, tenantID)
}

func (r *Registry) mapErr(err error, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NotFound("subscription", id.String())
	}
	return err
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
