package mood

import (
	"fmt"
	"strings"
)

type Type string

const (
	Despairing  Type = "Despairing"
	Irritated   Type = "Irritated"
	Anxious     Type = "Anxious"
	Drained     Type = "Drained"
	Restless    Type = "Restless"
	Indifferent Type = "Indifferent"
	Calm        Type = "Calm"
	Hopeful     Type = "Hopeful"
	Content     Type = "Content"
	Energized   Type = "Energized"
	Uncertain   Type = "Uncertain"
)

type Category string

const (
	Negative Category = "negative"
	Neutral  Category = "neutral"
	Positive Category = "positive"
)

// all keeps the canonical order used by keyboards and charts.
var all = []Type{
	Despairing, Irritated, Anxious, Drained, Restless,
	Indifferent, Calm, Hopeful, Content, Energized, Uncertain,
}

var Ordinals = map[Type]float64{
	Despairing:  1,
	Irritated:   2,
	Anxious:     3,
	Drained:     4,
	Restless:    5,
	Indifferent: 6,
	Calm:        7,
	Hopeful:     8,
	Content:     9,
	Energized:   10,
	Uncertain:   5.5,
}

var Categories = map[Type]Category{
	Despairing:  Negative,
	Irritated:   Negative,
	Anxious:     Negative,
	Drained:     Negative,
	Restless:    Negative,
	Indifferent: Neutral,
	Uncertain:   Neutral,
	Calm:        Positive,
	Hopeful:     Positive,
	Content:     Positive,
	Energized:   Positive,
}

var Emojis = map[Type]string{
	Despairing:  "😞",
	Irritated:   "😠",
	Anxious:     "😰",
	Drained:     "😩",
	Restless:    "😣",
	Indifferent: "😐",
	Calm:        "😌",
	Hopeful:     "🌱",
	Content:     "😊",
	Energized:   "⚡",
	Uncertain:   "🤔",
}

// All returns the moods in canonical order.
func All() []Type {
	out := make([]Type, len(all))
	copy(out, all)
	return out
}

func (t Type) Valid() bool {
	_, ok := Ordinals[t]
	return ok
}

// Ordinal is the 1-10 score used for timeline charts.
func (t Type) Ordinal() float64 {
	return Ordinals[t]
}

func (t Type) Category() Category {
	return Categories[t]
}

func (t Type) Emoji() string {
	if e, ok := Emojis[t]; ok {
		return e
	}
	return "❔"
}

// Lower is the label as used inside generated sentences.
func (t Type) Lower() string {
	return strings.ToLower(string(t))
}

func (t Type) String() string {
	return string(t)
}

// Parse matches a label case-insensitively.
func Parse(s string) (Type, error) {
	s = strings.TrimSpace(s)
	for _, t := range all {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown mood %q", s)
}
