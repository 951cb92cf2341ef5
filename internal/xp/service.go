// Package xp awards experience points with server-determined values.
package xp

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/lankaed/internal/metrics"
	"github.com/MarcoPoloResearchLab/lankaed/internal/profiles"
	"go.uber.org/zap"
)

var (
	// ErrProfileNotFound means the caller's profile has not been synced yet.
	ErrProfileNotFound = errors.New("xp: profile not found")
	// ErrMissingIdentity means no authenticated external id was supplied.
	ErrMissingIdentity = errors.New("xp: missing identity")
)

// ProfileLedger resolves profiles and applies atomic XP increments.
type ProfileLedger interface {
	Get(ctx context.Context, externalID string) (profiles.Profile, error)
	IncrementXP(ctx context.Context, profileID, action string, points int64) (int64, error)
}

// Award is the result of a successful award.
type Award struct {
	Action   ActionKind
	Points   int64
	NewTotal int64
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Ledger  ProfileLedger
	Metrics *metrics.Registry
	Logger  *zap.Logger
}

// Service awards XP for client actions.
type Service struct {
	ledger  ProfileLedger
	metrics *metrics.Registry
	logger  *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("xp: profile ledger is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: cfg.Ledger, metrics: cfg.Metrics, logger: logger}, nil
}

// Award grants the fixed points for rawAction to the profile owned by externalID.
// Invalid actions and unknown profiles leave the ledger untouched.
func (s *Service) Award(ctx context.Context, externalID string, rawAction string) (Award, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Award{}, ErrMissingIdentity
	}
	action, err := ParseActionKind(rawAction)
	if err != nil {
		s.metrics.ObserveAward("invalid", metrics.OutcomeRejected, 0)
		return Award{}, err
	}

	profile, err := s.ledger.Get(ctx, externalID)
	if errors.Is(err, profiles.ErrNotFound) {
		s.logger.Info("xp award for unsynced profile",
			zap.String("external_id", externalID),
			zap.String("action", string(action)),
		)
		s.metrics.ObserveAward(string(action), metrics.OutcomeRejected, 0)
		return Award{}, ErrProfileNotFound
	}
	if err != nil {
		s.metrics.ObserveAward(string(action), metrics.OutcomeFailed, 0)
		return Award{}, err
	}

	points := action.Points()
	total, err := s.ledger.IncrementXP(ctx, profile.ID, string(action), points)
	if errors.Is(err, profiles.ErrNotFound) {
		s.metrics.ObserveAward(string(action), metrics.OutcomeRejected, 0)
		return Award{}, ErrProfileNotFound
	}
	if err != nil {
		s.logger.Error("xp award failed",
			zap.String("external_id", externalID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		s.metrics.ObserveAward(string(action), metrics.OutcomeFailed, 0)
		return Award{}, err
	}

	s.metrics.ObserveAward(string(action), metrics.OutcomeOK, points)
	return Award{Action: action, Points: points, NewTotal: total}, nil
}
