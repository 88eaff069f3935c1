package cultural

import (
	"fmt"
	"math/rand/v2"

	"flatshare/internal/domain"
)

var genericLines = []string{
	"Your life choices are questionable at best",
	"Even a broken clock is right twice a day, unlike your decisions",
	"I've seen more organization in a tornado",
	"Your consistency is impressive: consistently disappointing",
	"If procrastination was an Olympic sport, you'd still find a way to be late",
}

var genericByCategory = map[Category][]string{
	Academic: {"Your study plan is a screensaver with ambitions", "You highlight the whole textbook and call it learning"},
	Family:   {"Your family group chat has a muted thread just for you", "Even your relatives schedule calls around your excuses"},
	Food:     {"Your fridge is a museum of expired intentions", "You burn water and call it a reduction"},
	Career:   {"Your LinkedIn says thought leader, your inbox says unread", "Your five year plan is a snooze button"},
	Social:   {"You RSVP maybe to your own birthday", "Your weekend plans are a loading screen"},
}

// Generic is the default style. It has vocabulary for every category and
// for topics with no category.
type Generic struct{}

func (Generic) Name() string { return "generic" }

func (Generic) Supports(Category) bool { return true }

func (Generic) Elements(cat Category, profile domain.UserPatternProfile, rng *rand.Rand, n int) []string {
	pool := append([]string(nil), genericByCategory[cat]...)
	pool = append(pool, genericLines...)
	if len(profile.RecurringPhrases) > 0 {
		pool = append(pool, fmt.Sprintf("You keep saying %q like it is a personality trait", profile.RecurringPhrases[0]))
	}
	return pick(pool, rng, n)
}

func (Generic) StyleAdditions() string {
	return `Use a witty, sarcastic roasting style that focuses on:
- general life choices and behavior patterns
- procrastination and productivity
- quirky habits and universal human failures
Keep it playful and avoid cultural specifics.`
}
