package scoring

import (
	"regexp"
	"strconv"

	"github.com/saiset-co/sai-enrichment/types"
)

var yearToken = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// latestYear extracts the most recent four-digit year token found anywhere
// in the candidate text. Returns 0 when no year token is present.
func latestYear(c types.Candidate) int {
	latest := 0
	scan := func(s string) {
		for _, match := range yearToken.FindAllString(s, -1) {
			year, err := strconv.Atoi(match)
			if err == nil && year > latest {
				latest = year
			}
		}
	}

	scan(c.Title)
	scan(c.Text)
	for _, v := range c.Metadata {
		scan(v)
	}

	return latest
}
