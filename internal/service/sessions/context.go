package sessions

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kokoro/internal/model"
	"github.com/ashita-ai/kokoro/internal/tavus"
)

// maxContextGoals caps how many active goals are mentioned.
const maxContextGoals = 5

// UserContext is the personalization data gathered for one user. Only
// Profile is guaranteed; the rest is nil or empty when missing or when the
// lookup failed.
type UserContext struct {
	Profile    model.Profile
	Assessment *model.PersonalityAssessment
	Ritual     *model.RitualPreferences
	Emotions   []string
	Goals      []model.Goal
}

// GatherContext runs the optional personalization lookups concurrently.
// A failed lookup is logged and left out; it never fails the call.
func (s *Service) GatherContext(ctx context.Context, profile model.Profile) UserContext {
	uc := UserContext{Profile: profile}
	userID := profile.ID

	var g errgroup.Group
	g.Go(func() error {
		a, err := s.store.GetLatestAssessment(ctx, userID)
		if err != nil {
			s.logger.Warn("context: assessment lookup failed", "user_id", userID, "error", err)
			return nil
		}
		uc.Assessment = a
		return nil
	})
	g.Go(func() error {
		r, err := s.store.GetRitualPreferences(ctx, userID)
		if err != nil {
			s.logger.Warn("context: ritual preferences lookup failed", "user_id", userID, "error", err)
			return nil
		}
		uc.Ritual = r
		return nil
	})
	g.Go(func() error {
		e, err := s.store.ListEmotionalCategories(ctx, userID)
		if err != nil {
			s.logger.Warn("context: emotional categories lookup failed", "user_id", userID, "error", err)
			return nil
		}
		uc.Emotions = e
		return nil
	})
	g.Go(func() error {
		goals, err := s.store.ListActiveGoals(ctx, userID, maxContextGoals)
		if err != nil {
			s.logger.Warn("context: goals lookup failed", "user_id", userID, "error", err)
			return nil
		}
		uc.Goals = goals
		return nil
	})
	_ = g.Wait()

	return uc
}

// Render turns the gathered data into the conversational context string.
func (uc UserContext) Render() string {
	var parts []string
	add := func(format string, args ...any) {
		parts = append(parts, fmt.Sprintf(format, args...))
	}

	if name := strings.TrimSpace(uc.Profile.FullName); name != "" {
		add("You are speaking with %s.", name)
	} else {
		add("You are speaking with a returning member who has not shared their name.")
	}
	add("Their preferred language is %s.", titleWord(tavus.Language(uc.Profile.PreferredLanguage)))

	if uc.Assessment != nil && strings.TrimSpace(uc.Assessment.DISCType) != "" {
		code := strings.ToUpper(strings.TrimSpace(uc.Assessment.DISCType))
		label := model.DISCLabel(code)
		if label == code {
			add("Their DISC personality type is %s.", code)
		} else {
			add("Their DISC personality type is %s (%s).", code, label)
		}
	}

	if r := uc.Ritual; r != nil {
		if label := model.FocusAreaLabel(r.FocusArea); label != "" {
			add("Their current focus area is %s.", label)
		}
		if t := strings.TrimSpace(r.PreferredTime); t != "" {
			add("They prefer to practice in the %s.", t)
		}
		if r.SessionLengthMinutes > 0 {
			add("They like sessions of about %d minutes.", r.SessionLengthMinutes)
		}
	}

	var emotions []string
	for _, e := range uc.Emotions {
		if e = strings.TrimSpace(e); e != "" {
			emotions = append(emotions, e)
		}
	}
	if len(emotions) > 0 {
		add("Emotions they are working with: %s.", strings.Join(emotions, ", "))
	}

	var goals []string
	for _, g := range uc.Goals {
		if len(goals) == maxContextGoals {
			break
		}
		if t := strings.TrimSpace(g.Title); t != "" {
			goals = append(goals, t)
		}
	}
	if len(goals) > 0 {
		add("Their active goals are: %s.", strings.Join(goals, "; "))
	}

	return strings.Join(parts, " ")
}

// Greeting returns the replica's opening line.
func (uc UserContext) Greeting() string {
	first, _, _ := strings.Cut(strings.TrimSpace(uc.Profile.FullName), " ")
	if first == "" {
		return "Hi, it's good to see you. How are you feeling today?"
	}
	return fmt.Sprintf("Hi %s, it's good to see you. How are you feeling today?", first)
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
