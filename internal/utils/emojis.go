package utils

import "tala-companion/internal/mood"

// MoodLabel returns the emoji-prefixed mood name used in replies.
func MoodLabel(m mood.Type) string {
	if m == "" {
		return "—"
	}
	return m.Emoji() + " " + string(m)
}

func CategoryEmoji(c mood.Category) string {
	switch c {
	case mood.Positive:
		return "🟢"
	case mood.Negative:
		return "🔴"
	case mood.Neutral:
		return "🟡"
	default:
		return "📌"
	}
}

func StatusEmoji(online bool) string {
	if online {
		return "🟢"
	}
	return "🔴"
}
