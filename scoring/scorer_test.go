package scoring

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-enrichment/config"
	"github.com/saiset-co/sai-enrichment/types"
)

func scoreCtx(terms ...string) types.ScoreContext {
	return types.ScoreContext{
		QueryTerms: terms,
		Now:        time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestScoreAuthoritativeImage(t *testing.T) {
	s := NewScorer(nil)

	c := types.Candidate{
		Title:     "City Park Playground 2024 new slide",
		SourceURL: "https://parks.springfield.gov/photos/main.jpg",
		Width:     1200,
		Height:    900,
		Format:    "jpg",
	}

	got := s.Score(c, scoreCtx("city", "park", "playground"))

	// trust 40 + size 22 + recency 15 + relevance 15 (capped) + format 5
	assert.Equal(t, float64(97), got)
}

func TestScoreExcludedDomainVetoes(t *testing.T) {
	s := NewScorer(nil)

	c := types.Candidate{
		Title:     "Beautiful playground with slide and swing 2025",
		SourceURL: "https://www.shutterstock.com/image/playground.jpg",
		Width:     4000,
		Height:    3000,
		Format:    "jpeg",
	}

	assert.Equal(t, float64(0), s.Score(c, scoreCtx("playground")))
}

func TestScoreExcludedKeywordVetoes(t *testing.T) {
	s := NewScorer(nil)

	c := types.Candidate{
		Title:     "Playground equipment for sale",
		SourceURL: "https://parks.springfield.gov/listings.jpg",
		Width:     2000,
		Height:    1500,
	}

	assert.Equal(t, float64(0), s.Score(c, scoreCtx("playground")))
}

func TestScoreKeywordTiers(t *testing.T) {
	s := NewScorer(nil)
	sctx := scoreCtx()

	base := types.Candidate{
		SourceURL: "https://en.wikipedia.org/article",
		Width:     1000,
		Height:    1000,
	}

	primary := base
	primary.Title = "Spielplatz am See"
	secondary := base
	secondary.Title = "Municipal park entrance"
	tertiary := base
	tertiary.Title = "Kindergarten building"
	unrelated := base
	unrelated.Title = "Downtown office tower"

	pScore := s.Score(primary, sctx)
	sScore := s.Score(secondary, sctx)
	tScore := s.Score(tertiary, sctx)
	uScore := s.Score(unrelated, sctx)

	assert.Equal(t, float64(10), pScore-sScore)
	assert.Equal(t, float64(25), pScore-tScore)
	assert.Equal(t, float64(40), pScore-uScore)
}

func TestScoreTextTiersForInsights(t *testing.T) {
	s := NewScorer(nil)
	sctx := scoreCtx()

	long := types.Candidate{
		Title:     "playground",
		Text:      strings.Repeat("a", 900),
		SourceURL: "https://commons.wikimedia.org/page",
	}
	short := long
	short.Text = "tiny"

	// identical except for text length, so the delta is the tier gap
	assert.Equal(t, float64(20), s.Score(long, sctx)-s.Score(short, sctx))
}

func TestScoreRecency(t *testing.T) {
	s := NewScorer(nil)
	sctx := scoreCtx()

	base := types.Candidate{
		Title:     "playground",
		SourceURL: "https://commons.wikimedia.org/page",
		Width:     800,
		Height:    600,
	}

	fresh := base
	fresh.Text = "Renovated in 2025 with new swings."
	stale := base
	stale.Text = "Built in 2009, photos from 2011."
	undated := base
	undated.Text = "A lovely spot with 20 benches."

	freshScore := s.Score(fresh, sctx)
	staleScore := s.Score(stale, sctx)
	undatedScore := s.Score(undated, sctx)

	assert.Greater(t, freshScore, staleScore)
	assert.Greater(t, staleScore, undatedScore)
	assert.Equal(t, float64(15), freshScore-undatedScore)
	assert.Equal(t, float64(7), staleScore-undatedScore)
}

func TestScoreNeverNegative(t *testing.T) {
	s := NewScorer(nil)

	// unknown source (8) minus no-match penalty (40) would go below zero
	c := types.Candidate{
		Title:     "Abandoned warehouse",
		SourceURL: "https://random.example.net/img.png",
	}

	assert.Equal(t, float64(0), s.Score(c, scoreCtx()))
}

func TestScoreRelevanceCap(t *testing.T) {
	cfg := config.DefaultScoring()
	s := NewScorer(cfg)

	c := types.Candidate{
		Title:     "playground park slide swing sandbox climbing",
		SourceURL: "https://en.wikipedia.org/article",
	}

	capped := s.Score(c, scoreCtx("playground", "park", "slide", "swing", "sandbox"))
	fewer := s.Score(c, scoreCtx("playground", "park", "slide"))

	// five matched terms at 5 points each hit the cap of 15
	assert.Equal(t, capped, fewer)
}

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer(nil)
	sctx := scoreCtx("playground", "park")

	c := types.Candidate{
		Title:     "Park playground overview 2024",
		Text:      "Large play area with climbing frame.",
		SourceURL: "https://www.openstreetmap.org/node/1",
		Width:     1600,
		Height:    1200,
		Format:    "webp",
	}

	first := s.Score(c, sctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(c, sctx))
	}
}

func TestEvaluateGates(t *testing.T) {
	s := NewScorer(nil)
	cat := &types.CategoryConfig{
		AcceptThreshold:    30,
		CacheableThreshold: 50,
	}

	// wikipedia (28) + primary keyword, text tier 5, no recency: 28 + 5 = 33
	c := types.Candidate{
		Title:     "playground",
		Text:      "swing",
		SourceURL: "https://en.wikipedia.org/article",
	}

	scored := s.Evaluate(c, scoreCtx(), cat)

	require.InDelta(t, 33, scored.Score, 0.001)
	assert.True(t, scored.Accept)
	assert.False(t, scored.Cacheable)
}

func TestBestPicksHighest(t *testing.T) {
	s := NewScorer(nil)
	cat := &types.CategoryConfig{AcceptThreshold: 30, CacheableThreshold: 50}
	sctx := scoreCtx("playground")

	weak := types.Candidate{
		Title:     "playground",
		SourceURL: "https://random.example.net/a.png",
	}
	strong := types.Candidate{
		Title:     "City playground 2025",
		SourceURL: "https://parks.springfield.gov/b.jpg",
		Width:     2000,
		Height:    1500,
		Format:    "jpg",
	}

	best, ok := s.Best([]types.Candidate{weak, strong}, sctx, cat)
	require.True(t, ok)
	assert.Equal(t, strong.SourceURL, best.Candidate.SourceURL)
	assert.True(t, best.Cacheable)

	_, ok = s.Best(nil, sctx, cat)
	assert.False(t, ok)
}
