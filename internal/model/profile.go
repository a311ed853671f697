package model

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Profile is the user's account profile. Owned by the app's data store;
// kokoro only reads it.
type Profile struct {
	ID                uuid.UUID `json:"id"`
	FullName          string    `json:"full_name"`
	PreferredLanguage string    `json:"preferred_language"`
	CreatedAt         time.Time `json:"created_at"`
}

// PersonalityAssessment is the latest DISC assessment for a user.
type PersonalityAssessment struct {
	UserID      uuid.UUID `json:"user_id"`
	DISCType    string    `json:"disc_type"`
	CompletedAt time.Time `json:"completed_at"`
}

// RitualPreferences describes when and how a user likes to practice.
type RitualPreferences struct {
	UserID               uuid.UUID `json:"user_id"`
	FocusArea            string    `json:"focus_area"`
	PreferredTime        string    `json:"preferred_time"`
	SessionLengthMinutes int       `json:"session_length_minutes"`
}

// GoalStatus is the state of a user goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalArchived  GoalStatus = "archived"
)

// Goal is a user-defined goal.
type Goal struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Title     string     `json:"title"`
	Status    GoalStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

var discLabels = map[string]string{
	"D": "Dominance",
	"I": "Influence",
	"S": "Steadiness",
	"C": "Conscientiousness",
}

// DISCLabel returns the human label for a DISC type code such as "D" or
// "SC". Values that are not DISC letters are returned trimmed.
func DISCLabel(code string) string {
	raw := strings.TrimSpace(code)
	upper := strings.ToUpper(raw)
	parts := make([]string, 0, len(upper))
	for _, r := range upper {
		label, ok := discLabels[string(r)]
		if !ok {
			return raw
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "/")
}

var focusAreaLabels = map[string]string{
	"stress":             "Stress Relief",
	"stress_management":  "Stress Management",
	"anxiety":            "Calming Anxiety",
	"confidence":         "Building Confidence",
	"relationships":      "Relationships",
	"purpose":            "Finding Purpose",
	"gratitude":          "Gratitude",
	"sleep":              "Better Sleep",
	"focus":              "Focus and Clarity",
	"emotional_balance":  "Emotional Balance",
	"self_compassion":    "Self-Compassion",
	"personal_growth":    "Personal Growth",
	"resilience":         "Resilience",
	"mindfulness":        "Mindfulness",
	"work_life_balance":  "Work-Life Balance",
	"habit_building":     "Habit Building",
	"grief":              "Navigating Grief",
	"energy":             "Energy and Vitality",
	"letting_go":         "Letting Go",
	"inner_peace":        "Inner Peace",
	"motivation":         "Motivation",
	"self_worth":         "Self-Worth",
	"communication":      "Communication",
	"creativity":         "Creativity",
	"career":             "Career Direction",
	"health":             "Health and Wellbeing",
	"spirituality":       "Spirituality",
	"mindful_leadership": "Mindful Leadership",
}

// FocusAreaLabel returns the display label for a stored focus-area key.
// Unknown keys are humanized ("deep_work" -> "Deep Work").
func FocusAreaLabel(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return ""
	}
	if label, ok := focusAreaLabels[key]; ok {
		return label
	}
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
