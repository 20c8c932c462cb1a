package scoring

import (
	"strings"

	"github.com/saiset-co/sai-enrichment/config"
	"github.com/saiset-co/sai-enrichment/types"
)

const MaxScore = 100

// Scorer computes a 0-100 quality score for raw provider candidates. It is
// pure: no I/O, no clock reads (the reference time comes in via
// ScoreContext), and malformed candidates score low instead of failing.
type Scorer struct {
	config *types.ScoringConfig
}

func NewScorer(cfg *types.ScoringConfig) *Scorer {
	if cfg == nil {
		cfg = config.DefaultScoring()
	}
	return &Scorer{config: cfg}
}

// Score sums the independently capped factor buckets, subtracts the keyword
// tier penalty and clamps to [0, MaxScore]. An excluded source or excluded
// keyword is a hard veto: the result is 0 no matter what the other factors
// would contribute.
func (s *Scorer) Score(c types.Candidate, sctx types.ScoreContext) float64 {
	source := strings.ToLower(c.SourceURL)
	text := candidateText(c)

	if s.excludedSource(source) || s.excludedKeyword(text) {
		return 0
	}

	total := s.sourceTrust(source)
	total += s.sizePoints(c)
	total += s.recencyPoints(c, sctx)
	total += s.relevancePoints(text, sctx.QueryTerms)
	total += s.formatPoints(c.Format)
	total -= s.keywordPenalty(text)

	if total < 0 {
		return 0
	}
	if total > MaxScore {
		return MaxScore
	}
	return total
}

// Evaluate applies the category gates on top of the raw score.
func (s *Scorer) Evaluate(c types.Candidate, sctx types.ScoreContext, cat *types.CategoryConfig) types.ScoredCandidate {
	score := s.Score(c, sctx)

	return types.ScoredCandidate{
		Candidate: c,
		Score:     score,
		Accept:    score >= cat.AcceptThreshold,
		Cacheable: score >= cat.CacheableThreshold,
	}
}

// Best scores every candidate and returns the highest-scoring one. The
// second return is false when the slice is empty.
func (s *Scorer) Best(candidates []types.Candidate, sctx types.ScoreContext, cat *types.CategoryConfig) (types.ScoredCandidate, bool) {
	var best types.ScoredCandidate
	found := false

	for _, c := range candidates {
		scored := s.Evaluate(c, sctx, cat)
		if !found || scored.Score > best.Score {
			best = scored
			found = true
		}
	}

	return best, found
}

func (s *Scorer) excludedSource(source string) bool {
	if source == "" {
		return false
	}
	for _, domain := range s.config.ExcludedDomains {
		if domain != "" && strings.Contains(source, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

func (s *Scorer) sourceTrust(source string) float64 {
	if source == "" {
		return 0
	}

	for _, tier := range s.config.TrustTiers {
		for _, domain := range tier.Domains {
			if domain != "" && strings.Contains(source, strings.ToLower(domain)) {
				return tier.Points
			}
		}
	}

	return s.config.UnknownSourcePoints
}

func (s *Scorer) sizePoints(c types.Candidate) float64 {
	if c.Width > 0 && c.Height > 0 {
		return tierPoints(s.config.SizeTiers, c.Width*c.Height)
	}
	return tierPoints(s.config.TextTiers, len([]rune(c.Text)))
}

func (s *Scorer) recencyPoints(c types.Candidate, sctx types.ScoreContext) float64 {
	latest := latestYear(c)
	if latest == 0 {
		return 0
	}

	if latest >= sctx.Now.Year()-s.config.RecencyWindowYears {
		return s.config.RecencyPoints
	}
	return s.config.RecencyStalePoints
}

func (s *Scorer) relevancePoints(text string, queryTerms []string) float64 {
	var points float64
	for _, term := range queryTerms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && strings.Contains(text, term) {
			points += s.config.RelevancePointsPerTerm
		}
	}

	if points > s.config.RelevanceCap {
		return s.config.RelevanceCap
	}
	return points
}

func (s *Scorer) formatPoints(format string) float64 {
	format = strings.ToLower(format)
	for _, preferred := range s.config.PreferredFormats {
		if format == strings.ToLower(preferred) {
			return s.config.FormatPoints
		}
	}
	return 0
}

func (s *Scorer) excludedKeyword(text string) bool {
	return containsAny(text, s.config.Keywords.Excluded)
}

func (s *Scorer) keywordPenalty(text string) float64 {
	kw := s.config.Keywords

	switch {
	case containsAny(text, kw.Primary):
		return 0
	case containsAny(text, kw.Secondary):
		return kw.SecondaryPenalty
	case containsAny(text, kw.Tertiary):
		return kw.TertiaryPenalty
	default:
		return kw.NoMatchPenalty
	}
}

func candidateText(c types.Candidate) string {
	var b strings.Builder
	b.WriteString(c.Title)
	b.WriteString(" ")
	b.WriteString(c.Text)
	for _, v := range c.Metadata {
		b.WriteString(" ")
		b.WriteString(v)
	}
	return strings.ToLower(b.String())
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

func tierPoints(tiers []types.SizeTier, value int) float64 {
	for _, tier := range tiers {
		if value >= tier.Min {
			return tier.Points
		}
	}
	return 0
}
