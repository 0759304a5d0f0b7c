package chatlog

import (
	"sort"
	"time"

	"tala-companion/internal/mood"
	"tala-companion/internal/utils"
)

// DefaultMatchWindow is how far a mood entry may sit from a user message and
// still be attached to it.
const DefaultMatchWindow = 15 * time.Second

type Normalizer struct {
	Window   time.Duration
	Location *time.Location
}

func NewNormalizer(window time.Duration, loc *time.Location) *Normalizer {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{Window: window, Location: loc}
}

// Normalize uses the default match window.
func Normalize(logs []Entry, moods []MoodEntry, loc *time.Location) []FormattedMessage {
	return NewNormalizer(DefaultMatchWindow, loc).Normalize(logs, moods)
}

type stamped[T any] struct {
	item T
	at   time.Time
	ok   bool
}

func stamp[T any](items []T, loc *time.Location, ts func(T) string) []stamped[T] {
	out := make([]stamped[T], len(items))
	for i, it := range items {
		t, err := utils.ParseTimestamp(ts(it), loc)
		out[i] = stamped[T]{item: it, at: t, ok: err == nil}
	}
	// Unparseable timestamps go last, keeping their relative order.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ok != out[j].ok {
			return out[i].ok
		}
		return out[i].at.Before(out[j].at)
	})
	return out
}

// Normalize sorts both inputs by time and converts each log entry into a
// FormattedMessage. The inputs are not modified.
func (n *Normalizer) Normalize(logs []Entry, moods []MoodEntry) []FormattedMessage {
	sortedLogs := stamp(logs, n.Location, func(e Entry) string { return e.Timestamp })
	sortedMoods := stamp(moods, n.Location, func(e MoodEntry) string { return e.Timestamp })

	valid := sortedMoods[:0:0]
	for _, m := range sortedMoods {
		if m.ok {
			valid = append(valid, m)
		}
	}

	out := make([]FormattedMessage, 0, len(sortedLogs))
	for _, l := range sortedLogs {
		msg := FormattedMessage{
			From: Tala,
			Text: l.item.Content,
			Mood: l.item.Mood,
		}
		if l.item.From == FromUser {
			msg.From = Me
		}
		if !l.ok {
			out = append(out, msg)
			continue
		}
		if l.item.From == FromUser {
			if matched, found := n.nearest(valid, l.at); found {
				msg.Mood = matched
			}
		}
		msg.Time = utils.LocalClock(l.at, n.Location)
		msg.Date = utils.LocalDate(l.at, n.Location)
		out = append(out, msg)
	}
	return out
}

// nearest finds the mood entry closest to at within the window. On equal
// distance the earlier entry wins.
func (n *Normalizer) nearest(moods []stamped[MoodEntry], at time.Time) (mood.Type, bool) {
	lo := at.Add(-n.Window)
	hi := at.Add(n.Window)
	start := sort.Search(len(moods), func(i int) bool { return !moods[i].at.Before(lo) })

	var (
		best  mood.Type
		bestD time.Duration
		found bool
	)
	for i := start; i < len(moods) && !moods[i].at.After(hi); i++ {
		d := moods[i].at.Sub(at)
		if d < 0 {
			d = -d
		}
		if !found || d < bestD {
			best, bestD, found = moods[i].item.Mood, d, true
		}
	}
	return best, found
}
