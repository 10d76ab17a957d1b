package dedup

import (
	"testing"

	"github.com/atlas-research/scirag/internal/domain"
)

func candidate(doi, title string, year int, src domain.Source, extID string) domain.Paper {
	return domain.Paper{
		DOI:           domain.NormalizeDOI(doi),
		Title:         title,
		TitleKey:      domain.NormalizeTitle(title),
		Year:          year,
		SourceOrigin:  src,
		ExternalIDs:   map[domain.Source]string{src: extID},
		CitationCount: 0,
	}
}

func TestMergeDOIMatch(t *testing.T) {
	x := NewIndex()

	first := candidate("10.1/a", "Sleep and Memory", 2020, domain.SourceOpenAlex, "W1")
	first.Abstract = "original abstract"
	r1 := x.Merge(first)
	if !r1.IsNew {
		t.Fatal("first merge must be new")
	}

	second := candidate("https://doi.org/10.1/A", "Sleep & Memory (reprint)", 2021, domain.SourceSemanticScholar, "s2-1")
	second.CitationCount = 99
	r2 := x.Merge(second)
	if r2.IsNew {
		t.Fatal("DOI match must not create a second paper")
	}
	if x.Size() != 1 {
		t.Fatalf("size = %d, want 1", x.Size())
	}

	got := r2.Accepted
	if got.Title != "Sleep and Memory" {
		t.Errorf("first-seen title must win, got %q", got.Title)
	}
	if got.Abstract != "original abstract" {
		t.Errorf("first-seen abstract must win, got %q", got.Abstract)
	}
	if got.CitationCount != 99 {
		t.Errorf("citation count must take the max, got %d", got.CitationCount)
	}
	if got.ExternalIDs[domain.SourceSemanticScholar] != "s2-1" {
		t.Errorf("external ids must merge, got %v", got.ExternalIDs)
	}
	if got.ExternalIDs[domain.SourceOpenAlex] != "W1" {
		t.Errorf("original external id lost: %v", got.ExternalIDs)
	}
}

func TestMergeTitleYearFallback(t *testing.T) {
	x := NewIndex()

	x.Merge(candidate("", "Attention Is All You Need", 2017, domain.SourceOpenAlex, "W2"))

	// Year off by one, punctuation differs: same work.
	r := x.Merge(candidate("", "Attention is all you need!", 2018, domain.SourceSemanticScholar, "s2-2"))
	if r.IsNew {
		t.Fatal("title-key match within year tolerance must merge")
	}

	// Two years apart: different work.
	r = x.Merge(candidate("", "Attention is all you need", 2020, domain.SourceSemanticScholar, "s2-3"))
	if !r.IsNew {
		t.Fatal("title match outside year tolerance must not merge")
	}
	if x.Size() != 2 {
		t.Fatalf("size = %d, want 2", x.Size())
	}
}

func TestMergeIdempotent(t *testing.T) {
	x := NewIndex()
	c := candidate("10.2/b", "Circadian Rhythms in Flies", 2019, domain.SourceOpenAlex, "W3")

	for i := 0; i < 5; i++ {
		x.Merge(c)
	}
	if x.Size() != 1 {
		t.Fatalf("merging identical candidate 5 times: size = %d, want 1", x.Size())
	}
}

func TestMergeFillsMissingFields(t *testing.T) {
	x := NewIndex()

	sparse := candidate("", "Gut Microbiome and Mood", 2022, domain.SourceOpenAlex, "W4")
	x.Merge(sparse)

	rich := candidate("10.3/c", "Gut Microbiome and Mood", 2022, domain.SourceSemanticScholar, "s2-4")
	rich.Abstract = "late abstract"
	rich.PDFURL = "https://example.org/p.pdf"
	rich.Venue = "Cell"
	r := x.Merge(rich)
	if r.IsNew {
		t.Fatal("expected merge")
	}

	got := r.Accepted
	if got.DOI != "10.3/c" {
		t.Errorf("missing DOI must be filled, got %q", got.DOI)
	}
	if got.Abstract != "late abstract" {
		t.Errorf("missing abstract must be filled, got %q", got.Abstract)
	}
	if got.PDFURL == "" || got.Venue == "" {
		t.Errorf("missing urls/venue must be filled: %+v", got)
	}

	// The filled DOI now matches future candidates.
	r = x.Merge(candidate("10.3/c", "Completely Different Title", 1999, domain.SourceOpenAlex, "W5"))
	if r.IsNew {
		t.Error("DOI registered during enrich must match later candidates")
	}
}

func TestMergeReportsEnrichment(t *testing.T) {
	x := NewIndex()

	first := candidate("10.5/d", "Sleep Spindles", 2020, domain.SourceOpenAlex, "W9")
	r := x.Merge(first)
	if r.Enriched || r.AbstractFilled {
		t.Fatalf("new paper must not report enrichment: %+v", r)
	}

	// Identical duplicate: nothing to fold in.
	same := candidate("10.5/d", "Sleep Spindles", 2020, domain.SourceOpenAlex, "W9")
	r = x.Merge(same)
	if r.IsNew || r.Enriched {
		t.Fatalf("identical duplicate must not report enrichment: %+v", r)
	}

	// Higher citation count counts as enrichment, but not as a filled abstract.
	cited := candidate("10.5/d", "Sleep Spindles", 2020, domain.SourceSemanticScholar, "s2-9")
	cited.CitationCount = 42
	r = x.Merge(cited)
	if !r.Enriched {
		t.Error("citation bump must report Enriched")
	}
	if r.AbstractFilled {
		t.Error("citation bump must not report AbstractFilled")
	}

	// A late abstract reports both flags.
	withAbstract := candidate("10.5/d", "Sleep Spindles", 2020, domain.SourceSemanticScholar, "s2-9")
	withAbstract.Abstract = "late abstract"
	r = x.Merge(withAbstract)
	if !r.Enriched || !r.AbstractFilled {
		t.Errorf("late abstract must report Enriched and AbstractFilled: %+v", r)
	}
}

func TestMergeUnknownYearMatchesAnything(t *testing.T) {
	x := NewIndex()
	x.Merge(candidate("", "Protein Folding at Scale", 0, domain.SourceOpenAlex, "W6"))

	r := x.Merge(candidate("", "Protein Folding at Scale", 2015, domain.SourceSemanticScholar, "s2-6"))
	if r.IsNew {
		t.Fatal("unknown year must not block a title match")
	}
}

func TestAcceptedPreservesOrder(t *testing.T) {
	x := NewIndex()
	x.Merge(candidate("10.4/a", "First", 2020, domain.SourceOpenAlex, "W7"))
	x.Merge(candidate("10.4/b", "Second", 2020, domain.SourceOpenAlex, "W8"))
	x.Merge(candidate("10.4/a", "First again", 2020, domain.SourceSemanticScholar, "s2-7"))

	got := x.Accepted()
	if len(got) != 2 || got[0].Title != "First" || got[1].Title != "Second" {
		t.Fatalf("acceptance order broken: %+v", got)
	}
}
