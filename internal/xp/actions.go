package xp

import (
	"errors"
	"fmt"
	"strings"
)

// ActionKind names a client activity that earns XP.
type ActionKind string

const (
	ActionVideoWatched       ActionKind = "VIDEO_WATCHED"
	ActionFlashcardCompleted ActionKind = "FLASHCARD_COMPLETED"
	ActionDailyLogin         ActionKind = "DAILY_LOGIN"
	ActionResourceDownloaded ActionKind = "RESOURCE_DOWNLOADED"
	ActionQuizCompleted      ActionKind = "QUIZ_COMPLETED"
	ActionAIHelpUsed         ActionKind = "AI_HELP_USED"
	ActionStreak7Days        ActionKind = "STREAK_7_DAYS"
	ActionStreak30Days       ActionKind = "STREAK_30_DAYS"
)

// ErrInvalidActionKind indicates an action outside the point table.
var ErrInvalidActionKind = errors.New("xp: invalid action kind")

var pointTable = map[ActionKind]int64{
	ActionVideoWatched:       5,
	ActionFlashcardCompleted: 10,
	ActionDailyLogin:         2,
	ActionResourceDownloaded: 3,
	ActionQuizCompleted:      15,
	ActionAIHelpUsed:         1,
	ActionStreak7Days:        50,
	ActionStreak30Days:       200,
}

// ParseActionKind validates client input against the point table.
// Matching is exact; clients send the upper-case constant names.
func ParseActionKind(raw string) (ActionKind, error) {
	kind := ActionKind(strings.TrimSpace(raw))
	if _, ok := pointTable[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidActionKind, raw)
	}
	return kind, nil
}

// Points returns the fixed award for the action.
func (k ActionKind) Points() int64 {
	return pointTable[k]
}

// ActionKinds lists every awardable action.
func ActionKinds() []ActionKind {
	return []ActionKind{
		ActionVideoWatched,
		ActionFlashcardCompleted,
		ActionDailyLogin,
		ActionResourceDownloaded,
		ActionQuizCompleted,
		ActionAIHelpUsed,
		ActionStreak7Days,
		ActionStreak30Days,
	}
}
