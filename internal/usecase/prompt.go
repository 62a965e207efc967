package usecase

import (
	"fmt"
	"strings"
	"time"

	"postcraft/internal/domain"
)

const eventSeparator = ", "

type promptTemplate struct {
	audience string
	ask      string
	rules    []string
}

// BuildPrompt returns the generation request for one platform. The aggregated
// event text is placed verbatim after the final ": ".
func BuildPrompt(platform domain.Platform, aggregated string) (string, error) {
	var t promptTemplate
	switch platform {
	case domain.PlatformLinkedIn:
		t = promptTemplate{
			audience: "LinkedIn",
			ask:      "a highly engaging post",
			rules:    []string{"* don't give a heading"},
		}
	case domain.PlatformFacebook:
		t = promptTemplate{
			audience: "Facebook",
			ask:      "a highly engaging post",
			rules:    []string{"* don't give a heading"},
		}
	case domain.PlatformTwitter:
		t = promptTemplate{
			audience: "Twitter",
			ask:      "one highly engaging post",
		}
	default:
		return "", newError(ErrorUnknownPlatform, "unsupported_platform", fmt.Errorf("platform %s", platform))
	}
	return t.render(aggregated), nil
}

func (t promptTemplate) render(aggregated string) string {
	lines := []string{
		fmt.Sprintf("Act as a senior copywriter, you write %s for %s using the provided thoughts/events from throughout the day.", t.ask, t.audience),
		"Write like a human, for humans. Use simple language.",
		"Ensure the tone is conversational and impactful.",
		"Focus on engaging the respective platform's audience, encouraging interaction, and driving interest in the events:",
	}
	lines = append(lines, t.rules...)
	return strings.Join(lines, "\n") + "\n: " + aggregated
}

// JoinEvents concatenates event texts in the given order with no attribution
// or timestamp markup.
func JoinEvents(events []domain.Event) string {
	texts := make([]string, 0, len(events))
	for _, e := range events {
		texts = append(texts, e.Text)
	}
	return strings.Join(texts, eventSeparator)
}

// Window is an inclusive time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// DayWindow returns the calendar day containing now in loc, from 00:00:00.000
// to 23:59:59.999. A nil loc means the server's local zone.
func DayWindow(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)
	return Window{Start: start, End: end}
}
