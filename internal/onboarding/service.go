// Package onboarding completes a student's profile after first sign-in.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/lankaed/internal/profiles"
	"go.uber.org/zap"
)

const (
	metadataGrade               = "grade"
	metadataPreferredLanguage   = "preferredLanguage"
	metadataOnboardingCompleted = "onboardingCompleted"
)

var (
	ErrMissingGrade    = errors.New("onboarding: grade required")
	ErrMissingLanguage = errors.New("onboarding: language required")
	ErrMissingIdentity = errors.New("onboarding: missing identity")
	// ErrIdentityUpdate means the identity provider rejected the metadata write.
	ErrIdentityUpdate = errors.New("onboarding: identity provider update failed")
	// ErrProfileUpdate means the profile write failed after the provider accepted the metadata.
	ErrProfileUpdate = errors.New("onboarding: profile update failed")
)

// MetadataWriter persists public metadata at the identity provider.
type MetadataWriter interface {
	UpdatePublicMetadata(ctx context.Context, userID string, metadata map[string]any) error
}

// ProfileUpdater loads profiles and applies partial updates.
type ProfileUpdater interface {
	Get(ctx context.Context, externalID string) (profiles.Profile, error)
	Update(ctx context.Context, externalID string, update profiles.ProfileUpdate) (profiles.Profile, error)
}

// Request carries the onboarding answers.
type Request struct {
	Grade    *int
	Language string
}

type ServiceConfig struct {
	Identity MetadataWriter
	Profiles ProfileUpdater
	Logger   *zap.Logger
}

// Service writes onboarding answers to the identity provider and the profile row.
type Service struct {
	identity MetadataWriter
	profiles ProfileUpdater
	logger   *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Identity == nil {
		return nil, errors.New("onboarding: identity client is required")
	}
	if cfg.Profiles == nil {
		return nil, errors.New("onboarding: profile store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{identity: cfg.Identity, profiles: cfg.Profiles, logger: logger}, nil
}

// Complete validates the answers, confirms the profile exists, writes them to the
// identity provider, then marks the profile as onboarded. Validation errors wrap
// profiles.ErrInvalidGrade or profiles.ErrInvalidLanguage. profiles.ErrNotFound is
// only returned before anything is written.
func (s *Service) Complete(ctx context.Context, externalID string, request Request) (profiles.Profile, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return profiles.Profile{}, ErrMissingIdentity
	}
	if request.Grade == nil {
		return profiles.Profile{}, ErrMissingGrade
	}
	if strings.TrimSpace(request.Language) == "" {
		return profiles.Profile{}, ErrMissingLanguage
	}
	grade := *request.Grade
	if err := profiles.ValidateGrade(grade); err != nil {
		return profiles.Profile{}, err
	}
	language, err := profiles.ParseLanguage(request.Language)
	if err != nil {
		return profiles.Profile{}, err
	}

	if _, err := s.profiles.Get(ctx, externalID); err != nil {
		if !errors.Is(err, profiles.ErrNotFound) {
			s.logger.Error("onboarding profile load failed",
				zap.String("external_id", externalID),
				zap.Error(err))
		}
		return profiles.Profile{}, err
	}

	metadata := map[string]any{
		metadataGrade:               grade,
		metadataPreferredLanguage:   string(language),
		metadataOnboardingCompleted: true,
	}
	if err := s.identity.UpdatePublicMetadata(ctx, externalID, metadata); err != nil {
		s.logger.Error("onboarding metadata write failed",
			zap.String("external_id", externalID),
			zap.Error(err))
		return profiles.Profile{}, fmt.Errorf("%w: %w", ErrIdentityUpdate, err)
	}

	completed := true
	profile, err := s.profiles.Update(ctx, externalID, profiles.ProfileUpdate{
		Grade:               &grade,
		PreferredLanguage:   &language,
		OnboardingCompleted: &completed,
	})
	if err != nil {
		s.logger.Error("onboarding profile update failed after metadata write",
			zap.String("external_id", externalID),
			zap.Error(err))
		return profiles.Profile{}, fmt.Errorf("%w: %v", ErrProfileUpdate, err)
	}
	return profile, nil
}
