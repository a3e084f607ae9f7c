package fetcher

import (
	"regexp"
	"strings"

	"campwatch/internal/model"
)

var (
	rvWords    = regexp.MustCompile(`\b(rvs?|trailers?|hookups?|electric|motorhomes?)\b`)
	cabinWords = regexp.MustCompile(`\b(cabins?|yurts?|lodges?)\b`)
	groupWords = regexp.MustCompile(`\bgroups?\b`)
)

func joinLower(fields []string) string {
	return strings.ToLower(strings.Join(fields, " "))
}

// InferSiteType picks the single most specific site type mentioned in the
// given free-text fields. Sites with no recognizable keywords are tents.
func InferSiteType(fields ...string) model.SiteType {
	text := joinLower(fields)
	switch {
	case cabinWords.MatchString(text):
		return model.SiteCabin
	case rvWords.MatchString(text):
		return model.SiteRV
	case groupWords.MatchString(text):
		return model.SiteGroup
	default:
		return model.SiteTent
	}
}
