// Package dedup collapses paper candidates from multiple literature
// sources into one canonical record per real-world work. The index is
// scoped to a single ingest job and discarded with it; cross-job
// deduplication happens at storage time via the unique DOI constraint.
package dedup

import "github.com/atlas-research/scirag/internal/domain"

// yearTolerance is how far apart publication years may be for a
// title-key match to count as the same work. Sources frequently
// disagree by one year around preprint/publication boundaries.
const yearTolerance = 1

// Result is the outcome of merging one candidate. Enriched reports that a
// duplicate changed the canonical record and the stored row needs a
// refresh; AbstractFilled additionally flags that the duplicate supplied
// an abstract the canonical was missing, so it can be chunked now.
type Result struct {
	Accepted       *domain.Paper
	IsNew          bool
	Enriched       bool
	AbstractFilled bool
}

// Index is an array-backed per-job dedup index. Accepted papers live in
// a flat slice; doiIdx and titleIdx map normalized keys to positions in
// it. Not safe for concurrent use; the pipeline merges from one goroutine.
type Index struct {
	accepted []domain.Paper
	doiIdx   map[string]int
	titleIdx map[string][]int
}

// NewIndex creates an empty per-job index.
func NewIndex() *Index {
	return &Index{
		doiIdx:   make(map[string]int),
		titleIdx: make(map[string][]int),
	}
}

// Merge deduplicates one candidate against the accepted set. A DOI match
// wins outright; otherwise a normalized-title match within the year
// tolerance counts. First-seen canonical metadata is kept; later matches
// only contribute external IDs and a higher citation count. Merge never
// fails: a missed match produces a near-duplicate, not an error.
func (x *Index) Merge(candidate domain.Paper) Result {
	if candidate.TitleKey == "" {
		candidate.TitleKey = domain.NormalizeTitle(candidate.Title)
	}

	if pos, ok := x.match(&candidate); ok {
		enriched, abstractFilled := x.enrich(pos, &candidate)
		return Result{
			Accepted:       &x.accepted[pos],
			IsNew:          false,
			Enriched:       enriched,
			AbstractFilled: abstractFilled,
		}
	}

	pos := len(x.accepted)
	x.accepted = append(x.accepted, candidate)
	if candidate.DOI != "" {
		x.doiIdx[candidate.DOI] = pos
	}
	if candidate.TitleKey != "" {
		x.titleIdx[candidate.TitleKey] = append(x.titleIdx[candidate.TitleKey], pos)
	}
	return Result{Accepted: &x.accepted[pos], IsNew: true}
}

// Accepted returns the canonical papers merged so far, in acceptance order.
func (x *Index) Accepted() []domain.Paper {
	return x.accepted
}

// Size returns the number of canonical papers.
func (x *Index) Size() int {
	return len(x.accepted)
}

func (x *Index) match(candidate *domain.Paper) (int, bool) {
	if candidate.DOI != "" {
		if pos, ok := x.doiIdx[candidate.DOI]; ok {
			return pos, true
		}
	}
	if candidate.TitleKey == "" {
		return 0, false
	}
	for _, pos := range x.titleIdx[candidate.TitleKey] {
		if yearsClose(x.accepted[pos].Year, candidate.Year) {
			return pos, true
		}
	}
	return 0, false
}

// enrich folds a duplicate into the canonical paper at pos. Title and
// abstract keep their first-seen values, except a missing abstract or DOI
// is filled in from the newcomer. It reports whether anything changed and
// whether a missing abstract was filled in.
func (x *Index) enrich(pos int, candidate *domain.Paper) (enriched, abstractFilled bool) {
	existing := &x.accepted[pos]
	if existing.ExternalIDs == nil {
		existing.ExternalIDs = make(map[domain.Source]string)
	}
	for src, id := range candidate.ExternalIDs {
		if _, ok := existing.ExternalIDs[src]; !ok {
			existing.ExternalIDs[src] = id
			enriched = true
		}
	}
	if candidate.CitationCount > existing.CitationCount {
		existing.CitationCount = candidate.CitationCount
		enriched = true
	}
	if existing.Abstract == "" && candidate.Abstract != "" {
		existing.Abstract = candidate.Abstract
		enriched = true
		abstractFilled = true
	}
	if existing.DOI == "" && candidate.DOI != "" {
		existing.DOI = candidate.DOI
		if _, ok := x.doiIdx[candidate.DOI]; !ok {
			x.doiIdx[candidate.DOI] = pos
		}
		enriched = true
	}
	if existing.PDFURL == "" && candidate.PDFURL != "" {
		existing.PDFURL = candidate.PDFURL
		enriched = true
	}
	if existing.LandingURL == "" && candidate.LandingURL != "" {
		existing.LandingURL = candidate.LandingURL
		enriched = true
	}
	if existing.Year == 0 && candidate.Year != 0 {
		existing.Year = candidate.Year
		enriched = true
	}
	if existing.Venue == "" && candidate.Venue != "" {
		existing.Venue = candidate.Venue
		enriched = true
	}
	return enriched, abstractFilled
}

// yearsClose checks the publication years within tolerance. An unknown
// year (zero) on either side matches anything.
func yearsClose(a, b int) bool {
	if a == 0 || b == 0 {
		return true
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= yearTolerance
}
