// Package identitysync applies verified identity events to the profile store.
package identitysync

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/lankaed/internal/metrics"
	"github.com/MarcoPoloResearchLab/lankaed/internal/profiles"
	"github.com/MarcoPoloResearchLab/lankaed/internal/retry"
	"github.com/MarcoPoloResearchLab/lankaed/internal/webhook"
	"go.uber.org/zap"
)

const (
	operationUpsert = "upsert"
	operationDelete = "delete"
)

var (
	// ErrMissingPrimaryContact rejects create/update events without a resolvable primary email.
	ErrMissingPrimaryContact = errors.New("identitysync: missing primary contact")
	// ErrMissingExternalID rejects events without a provider user id.
	ErrMissingExternalID = errors.New("identitysync: missing external id")
	// ErrSyncFailed reports that the store kept failing after every retry.
	ErrSyncFailed = errors.New("identitysync: sync failed")
)

// ProfileStore is the subset of the profile store the orchestrator writes to.
type ProfileStore interface {
	Upsert(ctx context.Context, payload profiles.UpsertPayload) (profiles.Profile, error)
	Delete(ctx context.Context, externalID string) error
}

// Config wires an Orchestrator.
type Config struct {
	Store   ProfileStore
	Policy  retry.Policy
	Metrics *metrics.Registry
	Logger  *zap.Logger
}

// Orchestrator retries idempotent store writes for identity events.
type Orchestrator struct {
	store   ProfileStore
	policy  retry.Policy
	metrics *metrics.Registry
	logger  *zap.Logger
}

// NewOrchestrator validates the config and applies defaults.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("identitysync: profile store is required")
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 && policy.BaseDelay == 0 {
		policy = retry.DefaultPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:   cfg.Store,
		policy:  policy,
		metrics: cfg.Metrics,
		logger:  logger,
	}, nil
}

// Handle dispatches a handled event to the matching sync operation.
// Unhandled events are a no-op.
func (o *Orchestrator) Handle(ctx context.Context, event webhook.Event) error {
	switch event.Kind {
	case webhook.EventProfileCreated:
		_, err := o.SyncCreateOrUpdate(ctx, event, false)
		return err
	case webhook.EventProfileUpdated:
		_, err := o.SyncCreateOrUpdate(ctx, event, true)
		return err
	case webhook.EventProfileDeleted:
		return o.SyncDelete(ctx, event)
	default:
		return nil
	}
}

// SyncCreateOrUpdate upserts the profile keyed by the event's external id.
// Creates carry first-insert defaults; updates carry identity fields only.
func (o *Orchestrator) SyncCreateOrUpdate(ctx context.Context, event webhook.Event, isUpdate bool) (profiles.Profile, error) {
	if event.ExternalID == "" {
		return profiles.Profile{}, ErrMissingExternalID
	}
	if event.PrimaryEmail == "" {
		o.logger.Warn("identity event rejected",
			zap.String("external_id", event.ExternalID),
			zap.String("event_type", event.Type),
			zap.Error(ErrMissingPrimaryContact),
		)
		return profiles.Profile{}, ErrMissingPrimaryContact
	}

	payload := profiles.UpsertPayload{
		ExternalID: event.ExternalID,
		Email:      stringPointer(event.PrimaryEmail),
	}
	if event.DisplayName != "" || isUpdate {
		payload.DisplayName = stringPointer(event.DisplayName)
	}
	if event.AvatarURL != "" || isUpdate {
		payload.AvatarURL = stringPointer(event.AvatarURL)
	}
	if !isUpdate {
		defaults := profiles.NewProfileDefaults()
		payload.Defaults = &defaults
	}

	var stored profiles.Profile
	err := o.run(ctx, operationUpsert, event.ExternalID, func(ctx context.Context) error {
		profile, err := o.store.Upsert(ctx, payload)
		if err != nil {
			return err
		}
		stored = profile
		return nil
	})
	if err != nil {
		return profiles.Profile{}, err
	}
	return stored, nil
}

// SyncDelete removes the profile; an already-absent profile is success.
func (o *Orchestrator) SyncDelete(ctx context.Context, event webhook.Event) error {
	if event.ExternalID == "" {
		return ErrMissingExternalID
	}
	return o.run(ctx, operationDelete, event.ExternalID, func(ctx context.Context) error {
		return o.store.Delete(ctx, event.ExternalID)
	})
}

func (o *Orchestrator) run(ctx context.Context, operation string, externalID string, write func(context.Context) error) error {
	err := o.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := write(ctx); err != nil {
			o.logger.Warn("profile sync attempt failed",
				zap.String("operation", operation),
				zap.String("external_id", externalID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if attempt < o.policy.Attempts() {
				o.metrics.ObserveSyncAttempt(operation, metrics.OutcomeRetry)
			}
			return err
		}
		o.metrics.ObserveSyncAttempt(operation, metrics.OutcomeOK)
		return nil
	})
	if err == nil {
		return nil
	}

	o.logger.Error("profile sync failed",
		zap.String("operation", operation),
		zap.String("external_id", externalID),
		zap.Error(err),
	)
	o.metrics.ObserveSyncAttempt(operation, metrics.OutcomeFailed)
	return fmt.Errorf("%w: %s %s: %w", ErrSyncFailed, operation, externalID, err)
}

func stringPointer(value string) *string {
	return &value
}
