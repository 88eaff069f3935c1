package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flatshare/internal/domain"
)

func TestAnalyze_TopicsFollowTableOrder(t *testing.T) {
	a := New()
	res := a.Analyze("My boss kept me at work so I skipped dinner", nil)
	assert.Equal(t, []string{"career", "food"}, res.Topics)
	assert.Equal(t, "career", res.PrimaryTopic())
}

func TestAnalyze_NoTopic(t *testing.T) {
	res := New().Analyze("hmm", nil)
	assert.Empty(t, res.Topics)
	assert.Equal(t, "general", res.PrimaryTopic())
}

func TestAnalyze_KeywordInsideLongerWordDoesNotMatch(t *testing.T) {
	// "homework" is education, not career.
	res := New().Analyze("homework again", nil)
	assert.Equal(t, []string{"education"}, res.Topics)
}

func TestAnalyze_Sentiment(t *testing.T) {
	a := New()
	assert.Equal(t, 1.0, a.Analyze("this is great", nil).Sentiment)
	assert.Equal(t, -1.0, a.Analyze("I hate this", nil).Sentiment)
	assert.Equal(t, 1.0, a.Analyze("not bad", nil).Sentiment)
	assert.Equal(t, 0.0, a.Analyze("", nil).Sentiment)

	long := a.Analyze("the flat has a kitchen and a sofa and a window and some good light", nil)
	assert.Greater(t, long.Sentiment, 0.0)
	assert.Less(t, long.Sentiment, 1.0)
}

func TestAnalyze_QuestionCountCountsSentences(t *testing.T) {
	res := New().Analyze("Why? Really?? ok", nil)
	assert.Equal(t, 2, res.QuestionCount)
}

func TestAnalyze_Urgency(t *testing.T) {
	a := New()
	assert.Equal(t, 1.0, a.Analyze("HELP NOW!!!", nil).Urgency)
	assert.Equal(t, 0.0, a.Analyze("quiet evening in", nil).Urgency)
}

func TestAnalyze_RepeatedPhrasesUseRecentWindow(t *testing.T) {
	res := New().Analyze("i am so tired", []string{"i am so tired of this"})
	assert.Equal(t, []string{"am so", "am so tired", "i am", "i am so", "so tired"}, res.RepeatedPhrases)

	none := New().Analyze("i am so tired", nil)
	assert.Empty(t, none.RepeatedPhrases)
}

func TestAnalyze_BehavioralFlags(t *testing.T) {
	a := New()
	assert.Equal(t, []string{"indecisive", "procrastinator"}, a.Analyze("maybe I'll do it tomorrow", nil).BehavioralFlags)
	assert.Equal(t, []string{"evasive"}, a.Analyze("whatever", nil).BehavioralFlags)
}

func TestAnalyze_Fixated(t *testing.T) {
	recent := []string{"what is for dinner", "I am hungry", "cook something"}
	res := New().Analyze("food food food", recent)
	assert.Contains(t, res.BehavioralFlags, "fixated")

	res = New().Analyze("food", recent[:2])
	assert.NotContains(t, res.BehavioralFlags, "fixated")
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := New()
	recent := []string{"my boss is the worst", "work work work"}
	msg := "Why does my boss ALWAYS do this?? I hate work!!!"
	first := a.Analyze(msg, recent)
	second := a.Analyze(msg, recent)
	require.Equal(t, first, second)
}

func TestBuildContext(t *testing.T) {
	now := time.Now()
	entries := []domain.ConversationEntry{
		{Speaker: "user", Message: "my job is great", Timestamp: now},
		{Speaker: "chef", Message: "your cooking is a crime, eat something real", Timestamp: now},
		{Speaker: "user", Message: "work was amazing today", Timestamp: now},
	}
	ctx := New().BuildContext(entries)
	assert.Equal(t, "career", ctx.CurrentTopic)
	assert.Equal(t, []string{"chef", "user"}, ctx.Participants)
	assert.Equal(t, []string{"career", "food", "career"}, ctx.TopicHistory)
	assert.Equal(t, 3, ctx.ThreadLength)
	assert.Equal(t, "positive", ctx.EmotionalTone)
}

func TestBuildContext_Empty(t *testing.T) {
	ctx := New().BuildContext(nil)
	assert.Equal(t, "general", ctx.CurrentTopic)
	assert.Equal(t, "neutral", ctx.EmotionalTone)
	assert.Zero(t, ctx.ThreadLength)
}

func TestNGrams(t *testing.T) {
	assert.Equal(t, []string{"a b", "b c", "a b c"}, NGrams([]string{"a", "b", "c"}))
	assert.Empty(t, NGrams([]string{"a"}))
}
