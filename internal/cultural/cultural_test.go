package cultural

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flatshare/internal/domain"
)

// partial only knows about food.
type partial struct{}

func (partial) Name() string               { return "partial" }
func (partial) Supports(cat Category) bool { return cat == Food }
func (partial) StyleAdditions() string     { return "partial style" }
func (partial) Elements(cat Category, _ domain.UserPatternProfile, _ *rand.Rand, _ int) []string {
	if cat != Food {
		panic("invoked for unsupported category " + string(cat))
	}
	return []string{"soggy toast"}
}

func rng() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestCategoryForTopic(t *testing.T) {
	cases := map[string]Category{
		"education":     Academic,
		"relationships": Family,
		"Family":        Family,
		"money":         Career,
		"entertainment": Social,
	}
	for topic, want := range cases {
		got, ok := CategoryForTopic(topic)
		require.True(t, ok, topic)
		assert.Equal(t, want, got, topic)
	}
	_, ok := CategoryForTopic("travel")
	assert.False(t, ok)
}

func TestResolve_UsesTaggedProviderWhenSupported(t *testing.T) {
	r := DefaultRegistry()
	p, cat, ok := r.Resolve("indian-style", "food")
	require.True(t, ok)
	assert.Equal(t, "indian", p.Name())
	assert.Equal(t, Food, cat)
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	r := NewRegistry(Generic{}, partial{})

	p, _, _ := r.Resolve("partial", "career")
	assert.Equal(t, "generic", p.Name())

	p, _, ok := r.Resolve("partial", "travel")
	assert.False(t, ok)
	assert.Equal(t, "generic", p.Name())

	p, _, _ = r.Resolve("unknown", "food")
	assert.Equal(t, "generic", p.Name())

	p, cat, _ := r.Resolve("partial", "food")
	assert.Equal(t, "partial", p.Name())
	assert.Equal(t, []string{"soggy toast"}, p.Elements(cat, domain.UserPatternProfile{}, rng(), 2))
}

func TestIndian_ElementsNonEmptyForEveryCategory(t *testing.T) {
	in := Indian{}
	for _, cat := range Categories {
		require.True(t, in.Supports(cat))
		els := in.Elements(cat, domain.UserPatternProfile{}, rng(), 2)
		assert.Len(t, els, 2, cat)
		for _, e := range els {
			assert.NotContains(t, e, "{who}")
		}
	}
	assert.False(t, in.Supports(Category("sports")))
}

func TestGeneric_UsesRecurringPhrase(t *testing.T) {
	profile := domain.UserPatternProfile{RecurringPhrases: []string{"to be fair"}}
	els := Generic{}.Elements(Food, profile, rng(), 50)
	assert.Contains(t, els, `You keep saying "to be fair" like it is a personality trait`)
	assert.Len(t, Generic{}.Elements("", domain.UserPatternProfile{}, rng(), 3), 3)
}

func TestElements_DeterministicForSeed(t *testing.T) {
	a := Indian{}.Elements(Career, domain.UserPatternProfile{}, rng(), 3)
	b := Indian{}.Elements(Career, domain.UserPatternProfile{}, rng(), 3)
	assert.Equal(t, a, b)
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"generic", "indian"}, DefaultRegistry().Names())
}

func TestLookupAndSupportsAll(t *testing.T) {
	r := DefaultRegistry()
	p, ok := r.Lookup("Indian-style")
	require.True(t, ok)
	assert.Equal(t, "indian", p.Name())

	_, ok = r.Lookup("klingon")
	assert.False(t, ok)

	assert.True(t, SupportsAll(Indian{}))
	assert.True(t, SupportsAll(Generic{}))
	assert.False(t, SupportsAll(partial{}))
}
