package cultural

import (
	"math/rand/v2"
	"strings"

	"flatshare/internal/domain"
)

var comparisonFigures = []string{
	"Sharma ji ka beta", "the neighbor's son", "your cousin brother", "society ka ladka", "a family friend's child",
}

// Lines containing {who} get a comparison figure.
var indianVocabulary = map[Category][]string{
	Academic: {
		"Beta, {who} cleared JEE on the first try, what is your excuse?",
		"Your parents did not pay for coaching classes so you could do this",
		"Engineering kiya tha na? Then why are you struggling like this?",
		"Even the neighbor's son who failed 10th is doing better than you",
	},
	Family: {
		"Beta, when are you getting married? Aunties are getting impatient",
		"Your mother called, she found three rishtas for you",
		"Log kya kahenge about your relationship status?",
		"The family WhatsApp group is discussing your future, and it is not looking good",
	},
	Food: {
		"Your mother's dal tastes better than whatever you are making",
		"Beta, this is not how we make it at home",
		"Even Maggi would be ashamed to be associated with your cooking",
		"Ghar ka khana miss kar raha hai na? Should have learned from mummy",
	},
	Career: {
		"Beta, {who} is already earning 50 lakhs, what are you doing?",
		"Aunties are asking when you will get a proper stable job",
		"A government job would at least give the relatives something to brag about",
		"Your salary slip would embarrass the whole colony",
	},
	Social: {
		"Beta, what will people say about your lifestyle choices?",
		"Even the uncle who sits in the park all day is more productive",
		"Society mein izzat kaise bachegi with this behavior?",
		"{who} would never do something like this",
	},
}

// Indian roasts like a concerned relative.
type Indian struct{}

func (Indian) Name() string { return "indian" }

func (Indian) Supports(cat Category) bool {
	_, ok := indianVocabulary[cat]
	return ok
}

func (Indian) Elements(cat Category, _ domain.UserPatternProfile, rng *rand.Rand, n int) []string {
	lines := pick(indianVocabulary[cat], rng, n)
	for i, l := range lines {
		if strings.Contains(l, "{who}") {
			lines[i] = strings.ReplaceAll(l, "{who}", comparisonFigures[rng.IntN(len(comparisonFigures))])
		}
	}
	return lines
}

func (Indian) StyleAdditions() string {
	return `You are incorporating Indian cultural context into your roasting style.
- Reference family expectations, parental approval and "log kya kahenge".
- Use terms like "beta", "aunty" and "uncle" naturally.
- Compare the target to successful peers like "Sharma ji ka beta".
- Blend affection with criticism, like a concerned relative.
Avoid offensive stereotypes, exaggerated accents and religious content.`
}
