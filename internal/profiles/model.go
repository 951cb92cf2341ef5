package profiles

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Language enumerates the supported preferred languages.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSinhala Language = "si"
	LanguageTamil   Language = "ta"

	// DefaultLanguage is assigned to every newly created profile.
	DefaultLanguage = LanguageEnglish
)

const (
	MinGrade = 1
	MaxGrade = 13
)

var (
	// ErrInvalidLanguage indicates an unsupported preferred language.
	ErrInvalidLanguage = errors.New("profiles: invalid language")
	// ErrInvalidGrade indicates a grade outside the supported range.
	ErrInvalidGrade = errors.New("profiles: invalid grade")
)

// ParseLanguage validates raw input and returns a Language.
func ParseLanguage(rawInput string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(rawInput))) {
	case LanguageEnglish:
		return LanguageEnglish, nil
	case LanguageSinhala:
		return LanguageSinhala, nil
	case LanguageTamil:
		return LanguageTamil, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, rawInput)
	}
}

// ValidateGrade ensures the grade falls within the school grade range.
func ValidateGrade(grade int) error {
	if grade < MinGrade || grade > MaxGrade {
		return fmt.Errorf("%w: %d not in %d-%d", ErrInvalidGrade, grade, MinGrade, MaxGrade)
	}
	return nil
}

// Profile is the internal ledger row for one external identity.
type Profile struct {
	ID                  string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	ExternalID          string    `gorm:"column:external_id;size:190;not null;uniqueIndex:idx_profiles_external_id" json:"externalId"`
	Email               string    `gorm:"column:email;size:320;not null;default:''" json:"email"`
	DisplayName         string    `gorm:"column:display_name;size:320" json:"displayName"`
	AvatarURL           string    `gorm:"column:avatar_url;size:512" json:"avatarUrl"`
	Grade               *int      `gorm:"column:grade" json:"grade"`
	PreferredLanguage   Language  `gorm:"column:preferred_language;size:8;not null;default:'en'" json:"preferredLanguage"`
	OnboardingCompleted bool      `gorm:"column:onboarding_completed;not null;default:false" json:"onboardingCompleted"`
	XPTotal             int64     `gorm:"column:xp_total;not null;default:0" json:"xpTotal"`
	CreatedAt           time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt           time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// XPEvent is one append-only entry of the XP ledger.
type XPEvent struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	ProfileID string    `gorm:"column:profile_id;size:64;not null;index:idx_xp_events_profile_time,priority:1"`
	Action    string    `gorm:"column:action;size:64;not null"`
	Points    int64     `gorm:"column:points;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_xp_events_profile_time,priority:2"`
}

// TableName exposes the table backing XP events.
func (XPEvent) TableName() string {
	return "xp_events"
}

// ProfileDefaults holds the gamification and onboarding values written when a row is first inserted.
type ProfileDefaults struct {
	Grade               *int
	PreferredLanguage   Language
	OnboardingCompleted bool
	XPTotal             int64
}

// NewProfileDefaults returns the defaults applied to freshly created profiles.
func NewProfileDefaults() ProfileDefaults {
	return ProfileDefaults{
		Grade:               nil,
		PreferredLanguage:   DefaultLanguage,
		OnboardingCompleted: false,
		XPTotal:             0,
	}
}

// UpsertPayload describes an insert-or-update keyed by external identity.
// Nil identity fields are left untouched when the row already exists.
// Defaults only apply when the row is inserted.
type UpsertPayload struct {
	ExternalID  string
	Email       *string
	DisplayName *string
	AvatarURL   *string
	Defaults    *ProfileDefaults
}

// ProfileUpdate is a partial update; nil fields are not written.
type ProfileUpdate struct {
	Email               *string
	DisplayName         *string
	AvatarURL           *string
	Grade               *int
	PreferredLanguage   *Language
	OnboardingCompleted *bool
}

func (u ProfileUpdate) columns() map[string]interface{} {
	updates := map[string]interface{}{}
	if u.Email != nil {
		updates[columnEmail] = normalize(*u.Email)
	}
	if u.DisplayName != nil {
		updates[columnDisplayName] = normalize(*u.DisplayName)
	}
	if u.AvatarURL != nil {
		updates[columnAvatarURL] = normalize(*u.AvatarURL)
	}
	if u.Grade != nil {
		updates[columnGrade] = *u.Grade
	}
	if u.PreferredLanguage != nil {
		updates[columnPreferredLanguage] = string(*u.PreferredLanguage)
	}
	if u.OnboardingCompleted != nil {
		updates[columnOnboardingCompleted] = *u.OnboardingCompleted
	}
	return updates
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
