// Package search answers label queries over stored detection sets.
package search

import (
	"sort"
	"strings"

	"featurerecall/internal/models"
)

// Search returns, per set, the records whose label contains query, case-insensitively.
// Sets without a match are left out. A query that matches nothing anywhere yields
// a NoMatchError; a blank query yields an InvalidQueryError. Sets are not modified.
func Search(sets []models.DetectionSet, query string) (models.SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return models.SearchResult{}, &models.InvalidQueryError{Query: query, Reason: "query must not be empty"}
	}
	needle := strings.ToLower(q)

	result := models.SearchResult{Query: q}
	for _, set := range sets {
		var matched []models.DetectionRecord
		for _, rec := range set.Records {
			if strings.Contains(strings.ToLower(rec.Label), needle) {
				matched = append(matched, rec)
			}
		}
		if len(matched) > 0 {
			result.Groups = append(result.Groups, models.MatchGroup{
				MediaID: set.MediaID,
				ModelID: set.ModelID,
				Records: matched,
			})
		}
	}

	if result.Empty() {
		return result, &models.NoMatchError{Query: q}
	}
	return result, nil
}

// Labels returns the distinct labels found in sets, sorted.
func Labels(sets []models.DetectionSet) []string {
	seen := make(map[string]bool)
	labels := []string{}
	for _, set := range sets {
		for _, rec := range set.Records {
			if !seen[rec.Label] {
				seen[rec.Label] = true
				labels = append(labels, rec.Label)
			}
		}
	}
	sort.Strings(labels)
	return labels
}
