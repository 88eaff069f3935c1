package persona

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flatshare/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDefault_Cast(t *testing.T) {
	ps := Default()
	require.Len(t, ps, 9)
	assert.Equal(t, []string{
		"codemaster", "savageburn", "uncleji", "chefcritic", "beatdrop",
		"chaosking", "quietstorm", "pennypincher", "deepthought",
	}, IDs(ps))

	for _, p := range ps {
		assert.NotEmpty(t, p.Name, p.ID)
		assert.NotEmpty(t, p.BackupLines, p.ID)
		assert.GreaterOrEqual(t, p.BaselineMood, 1, p.ID)
		assert.LessOrEqual(t, p.BaselineMood, 100, p.ID)
	}
	assert.Empty(t, UnknownInteractions(ps))
}

func TestDefault_FieldsDecoded(t *testing.T) {
	p, ok := Lookup(Default(), "UncleJi")
	require.True(t, ok)
	assert.Equal(t, "uncleji", p.ID)
	assert.Equal(t, "cultural", p.PreferredStrategy)
	assert.Equal(t, "indian", p.Cultural)
	assert.Equal(t, 55, p.BaselineMood)
	assert.Contains(t, p.Triggers, "wasting_money")
	assert.Equal(t, []string{"wasting_money"}, p.TriggeredBy("you wasted money on a lamp"))
}

func TestParse_SinglePersonaDocument(t *testing.T) {
	ps, err := Parse([]byte("name: Lodger\nstrategy: Witty\n"))
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "lodger", ps[0].ID)
	assert.Equal(t, "witty", ps[0].PreferredStrategy)
	assert.Equal(t, 50, ps[0].BaselineMood)
	assert.Equal(t, "generic", ps[0].Cultural)
}

func TestParse_Validation(t *testing.T) {
	_, err := Parse([]byte("personas: []\n"))
	assert.ErrorIs(t, err, ErrNoPersonas)

	_, err = Parse([]byte("personas:\n  - id: a\n  - id: a\n"))
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = Parse([]byte("personas:\n  - id: a\n    strategy: sulky\n"))
	assert.ErrorContains(t, err, "unknown strategy")

	ps, err := Parse([]byte("personas:\n  - id: a\n    baseline_mood: 400\n    spice: 9\n"))
	require.NoError(t, err)
	assert.Equal(t, 100, ps[0].BaselineMood)
	assert.Equal(t, 5, ps[0].Spice)
}

func TestLoadFromDirectory_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("a.yaml", "personas:\n  - id: alice\n  - id: bob\n")
	write("b.yml", "id: carol\nname: Carol\n")
	write("broken.yaml", "personas: [unterminated\n")
	write("notes.txt", "id: dave\n")

	ps, err := LoadFromDirectory(dir, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, IDs(ps))
}

func TestLoad(t *testing.T) {
	ps, err := Load("", testLogger())
	require.NoError(t, err)
	assert.Len(t, ps, 9)

	path := filepath.Join(t.TempDir(), "cast.yaml")
	require.NoError(t, os.WriteFile(path, []byte("personas:\n  - id: solo\n"), 0o644))
	ps, err = Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, IDs(ps))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	assert.Error(t, err)
}

func TestSeedScore(t *testing.T) {
	assert.Equal(t, 65, SeedScore("Is secretly impressed by her wit"))
	assert.Equal(t, 75, SeedScore("Has a crush on her"))
	assert.Equal(t, 35, SeedScore("Finds him annoying"))
	assert.Equal(t, 50, SeedScore("Finds it frustrating, but is fond of his stories"))
	assert.Equal(t, 10, SeedScore("They are sworn enemies, but fond of each other"))
	assert.Equal(t, 50, SeedScore("finds his social awkwardness amusing"))
}

func TestSeeds_DefaultCast(t *testing.T) {
	byPair := make(map[[2]string]int)
	for _, e := range Seeds(Default()) {
		byPair[[2]string{e.A, e.B}] = e.Score
	}
	assert.Equal(t, 58, byPair[[2]string{"codemaster", "savageburn"}])
	assert.Equal(t, 63, byPair[[2]string{"codemaster", "quietstorm"}])
	assert.Equal(t, 35, byPair[[2]string{"savageburn", "uncleji"}])
	assert.Equal(t, 43, byPair[[2]string{"codemaster", "chaosking"}])
	_, ok := byPair[[2]string{"savageburn", "chaosking"}]
	assert.False(t, ok, "neutral pairs are not seeded")
}

func TestSeeds_Symmetric(t *testing.T) {
	ps := []domain.Persona{
		{ID: "a", Interactions: map[string]string{"b": "has a crush"}},
		{ID: "b", Interactions: map[string]string{"a": "is annoyed"}},
	}
	edges := Seeds(ps)
	require.Len(t, edges, 1)
	assert.Equal(t, domain.RelationshipEdge{A: "a", B: "b", Score: 55}, edges[0])
}
