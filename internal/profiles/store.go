package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/lankaed/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound signals that no profile matched; it is a result, not a failure.
	ErrNotFound = errors.New("profiles: profile not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingExternalID = errors.New("external identity id is required")
	errMissingProfileID  = errors.New("profile id is required")
	errMissingAction     = errors.New("action is required")
	errInvalidPoints     = errors.New("points must be positive")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew    = "profiles.store.new"
	opGet         = "profiles.get"
	opUpsert      = "profiles.upsert"
	opUpdate      = "profiles.update"
	opDelete      = "profiles.delete"
	opIncrementXP = "profiles.award_xp"

	columnID                  = "id"
	columnExternalID          = "external_id"
	columnEmail               = "email"
	columnDisplayName         = "display_name"
	columnAvatarURL           = "avatar_url"
	columnGrade               = "grade"
	columnPreferredLanguage   = "preferred_language"
	columnOnboardingCompleted = "onboarding_completed"
	columnXPTotal             = "xp_total"
	columnUpdatedAt           = "updated_at"

	queryExternalID = columnExternalID + " = ?"
	queryProfileID  = columnID + " = ?"

	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonMissingExternalID = "missing_external_id"
	reasonMissingProfileID  = "missing_profile_id"
	reasonInvalidArgument   = "invalid_argument"
	reasonIDGeneration      = "id_generation_failed"
	reasonQueryFailed       = "query_failed"
	reasonWriteFailed       = "write_failed"
	reasonLedgerFailed      = "ledger_insert_failed"
)

// StoreError wraps an underlying store failure with a stable operation code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" identifier.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ChangePublisher receives committed row changes.
type ChangePublisher interface {
	Publish(change realtime.Change)
}

// StoreConfig describes the dependencies of the profile store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  ChangePublisher
	Logger     *zap.Logger
}

// Store is the only component that reads or writes profile rows.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	publisher  ChangePublisher
	logger     *zap.Logger
}

// NewStore validates dependencies and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		publisher:  cfg.Publisher,
		logger:     logger,
	}, nil
}

// Get returns the profile for externalID or ErrNotFound.
func (s *Store) Get(ctx context.Context, externalID string) (Profile, error) {
	if err := s.ready(opGet); err != nil {
		return Profile{}, err
	}
	externalID = normalize(externalID)
	if externalID == "" {
		return Profile{}, newStoreError(opGet, reasonMissingExternalID, errMissingExternalID)
	}

	var profile Profile
	err := s.db.WithContext(ctx).Where(queryExternalID, externalID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGet, reasonQueryFailed, err, zap.String("external_id", externalID))
		return Profile{}, newStoreError(opGet, reasonQueryFailed, err)
	}
	return profile, nil
}

// Upsert inserts the profile or, when external_id already exists, overwrites only
// the identity fields present in payload.
func (s *Store) Upsert(ctx context.Context, payload UpsertPayload) (Profile, error) {
	if err := s.ready(opUpsert); err != nil {
		return Profile{}, err
	}
	externalID := normalize(payload.ExternalID)
	if externalID == "" {
		return Profile{}, newStoreError(opUpsert, reasonMissingExternalID, errMissingExternalID)
	}

	defaults := NewProfileDefaults()
	if payload.Defaults != nil {
		defaults = *payload.Defaults
	}
	if defaults.PreferredLanguage == "" {
		defaults.PreferredLanguage = DefaultLanguage
	}

	profileID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpsert, reasonIDGeneration, err, zap.String("external_id", externalID))
		return Profile{}, newStoreError(opUpsert, reasonIDGeneration, err)
	}

	now := s.clock().UTC()
	row := Profile{
		ID:                  profileID,
		ExternalID:          externalID,
		Grade:               defaults.Grade,
		PreferredLanguage:   defaults.PreferredLanguage,
		OnboardingCompleted: defaults.OnboardingCompleted,
		XPTotal:             defaults.XPTotal,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	assignments := []string{columnUpdatedAt}
	if payload.Email != nil {
		row.Email = normalize(*payload.Email)
		assignments = append(assignments, columnEmail)
	}
	if payload.DisplayName != nil {
		row.DisplayName = normalize(*payload.DisplayName)
		assignments = append(assignments, columnDisplayName)
	}
	if payload.AvatarURL != nil {
		row.AvatarURL = normalize(*payload.AvatarURL)
		assignments = append(assignments, columnAvatarURL)
	}

	kind := realtime.ChangeUpdated
	var stored Profile
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Profile{}).Where(queryExternalID, externalID).Count(&existing).Error; err != nil {
			return newStoreError(opUpsert, reasonQueryFailed, err)
		}
		if existing == 0 {
			kind = realtime.ChangeInserted
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnExternalID}},
			DoUpdates: clause.AssignmentColumns(assignments),
		}).Create(&row).Error; err != nil {
			return newStoreError(opUpsert, reasonWriteFailed, err)
		}

		if err := tx.Where(queryExternalID, externalID).Take(&stored).Error; err != nil {
			return newStoreError(opUpsert, reasonQueryFailed, err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opUpsert, "transaction_failed", txErr, zap.String("external_id", externalID))
		return Profile{}, txErr
	}

	s.publish(kind, stored)
	return stored, nil
}

// Update applies a partial update and returns the resulting row, or ErrNotFound
// when no row matched.
func (s *Store) Update(ctx context.Context, externalID string, update ProfileUpdate) (Profile, error) {
	if err := s.ready(opUpdate); err != nil {
		return Profile{}, err
	}
	externalID = normalize(externalID)
	if externalID == "" {
		return Profile{}, newStoreError(opUpdate, reasonMissingExternalID, errMissingExternalID)
	}

	columns := update.columns()
	columns[columnUpdatedAt] = s.clock().UTC()

	var stored Profile
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Profile{}).Where(queryExternalID, externalID).Updates(columns)
		if result.Error != nil {
			return newStoreError(opUpdate, reasonWriteFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where(queryExternalID, externalID).Take(&stored).Error; err != nil {
			return newStoreError(opUpdate, reasonQueryFailed, err)
		}
		return nil
	})
	if errors.Is(txErr, ErrNotFound) {
		return Profile{}, ErrNotFound
	}
	if txErr != nil {
		s.logError(opUpdate, "transaction_failed", txErr, zap.String("external_id", externalID))
		return Profile{}, txErr
	}

	s.publish(realtime.ChangeUpdated, stored)
	return stored, nil
}

// Delete removes the profile and its XP ledger. Deleting an absent profile succeeds.
func (s *Store) Delete(ctx context.Context, externalID string) error {
	if err := s.ready(opDelete); err != nil {
		return err
	}
	externalID = normalize(externalID)
	if externalID == "" {
		return newStoreError(opDelete, reasonMissingExternalID, errMissingExternalID)
	}

	var deleted int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profileIDs := tx.Model(&Profile{}).Select(columnID).Where(queryExternalID, externalID)
		if err := tx.Where("profile_id IN (?)", profileIDs).Delete(&XPEvent{}).Error; err != nil {
			return newStoreError(opDelete, reasonLedgerFailed, err)
		}
		result := tx.Where(queryExternalID, externalID).Delete(&Profile{})
		if result.Error != nil {
			return newStoreError(opDelete, reasonWriteFailed, result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	if txErr != nil {
		s.logError(opDelete, "transaction_failed", txErr, zap.String("external_id", externalID))
		return txErr
	}

	if deleted > 0 {
		s.publish(realtime.ChangeDeleted, Profile{ExternalID: externalID})
	}
	return nil
}

// IncrementXP is the award_xp ledger procedure: it appends an XP event and adds
// points to xp_total as a single atomic statement, returning the new total.
func (s *Store) IncrementXP(ctx context.Context, profileID, action string, points int64) (int64, error) {
	if err := s.ready(opIncrementXP); err != nil {
		return 0, err
	}
	profileID = normalize(profileID)
	if profileID == "" {
		return 0, newStoreError(opIncrementXP, reasonMissingProfileID, errMissingProfileID)
	}
	if normalize(action) == "" {
		return 0, newStoreError(opIncrementXP, reasonInvalidArgument, errMissingAction)
	}
	if points <= 0 {
		return 0, newStoreError(opIncrementXP, reasonInvalidArgument, errInvalidPoints)
	}

	eventID, err := s.idProvider.NewID()
	if err != nil {
		return 0, newStoreError(opIncrementXP, reasonIDGeneration, err)
	}

	now := s.clock().UTC()
	var stored Profile
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Profile{}).
			Where(queryProfileID, profileID).
			Updates(map[string]interface{}{
				columnXPTotal:   gorm.Expr(columnXPTotal+" + ?", points),
				columnUpdatedAt: now,
			})
		if result.Error != nil {
			return newStoreError(opIncrementXP, reasonWriteFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		event := XPEvent{
			ID:        eventID,
			ProfileID: profileID,
			Action:    normalize(action),
			Points:    points,
			CreatedAt: now,
		}
		if err := tx.Create(&event).Error; err != nil {
			return newStoreError(opIncrementXP, reasonLedgerFailed, err)
		}

		if err := tx.Where(queryProfileID, profileID).Take(&stored).Error; err != nil {
			return newStoreError(opIncrementXP, reasonQueryFailed, err)
		}
		return nil
	})
	if errors.Is(txErr, ErrNotFound) {
		return 0, ErrNotFound
	}
	if txErr != nil {
		s.logError(opIncrementXP, "transaction_failed", txErr,
			zap.String("profile_id", profileID),
			zap.String("action", action))
		return 0, txErr
	}

	s.publish(realtime.ChangeUpdated, stored)
	return stored.XPTotal, nil
}

func (s *Store) ready(operation string) error {
	if s == nil || s.db == nil {
		return newStoreError(operation, reasonMissingDatabase, errMissingDatabase)
	}
	if s.idProvider == nil {
		return newStoreError(operation, reasonMissingIDProvider, errMissingIDProvider)
	}
	return nil
}

func (s *Store) publish(kind realtime.ChangeKind, profile Profile) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(realtime.Change{
		Kind:                kind,
		ExternalID:          profile.ExternalID,
		ProfileID:           profile.ID,
		XPTotal:             profile.XPTotal,
		OnboardingCompleted: profile.OnboardingCompleted,
		Timestamp:           s.clock().UTC(),
	})
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("profile store error", attrs...)
}
