package domain

import (
	"regexp"
	"strings"
	"time"
)

// Source identifies a literature source API.
type Source string

const (
	// SourceOpenAlex is the OpenAlex works API.
	SourceOpenAlex Source = "openalex"
	// SourceSemanticScholar is the Semantic Scholar graph API.
	SourceSemanticScholar Source = "semantic_scholar"
)

// AllSources lists every known source in request order.
var AllSources = []Source{SourceOpenAlex, SourceSemanticScholar}

// ParseSource validates a source name.
func ParseSource(s string) (Source, bool) {
	switch Source(s) {
	case SourceOpenAlex, SourceSemanticScholar:
		return Source(s), true
	}
	return "", false
}

// Paper is the canonical stored representation of a real-world work.
// Candidates from multiple sources collapse into one Paper during
// deduplication; only ExternalIDs and CitationCount mutate afterwards.
type Paper struct {
	ID            string
	DOI           string // normalized, "" when unknown
	Title         string
	TitleKey      string // normalized title for fallback dedup
	Authors       []string
	Year          int // 0 when unknown
	Venue         string
	Abstract      string
	CitationCount int
	SourceOrigin  Source            // first source that produced the record
	ExternalIDs   map[Source]string // per-source identifiers, merged on dedup
	PDFURL        string
	LandingURL    string
	IngestJobID   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasAbstract reports whether the paper carries usable text for chunking.
func (p *Paper) HasAbstract() bool {
	return strings.TrimSpace(p.Abstract) != ""
}

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeDOI lowercases a DOI and strips URL prefixes. Returns "" for
// values that do not look like a DOI.
func NormalizeDOI(doi string) string {
	doi = strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range doiPrefixes {
		doi = strings.TrimPrefix(doi, prefix)
	}
	if !strings.HasPrefix(doi, "10.") {
		return ""
	}
	return doi
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// NormalizeTitle lowercases a title, strips punctuation, and collapses
// whitespace. Used as the fallback dedup key.
func NormalizeTitle(title string) string {
	title = strings.ToLower(title)
	title = nonWord.ReplaceAllString(title, " ")
	return strings.Join(strings.Fields(title), " ")
}

// CleanText collapses whitespace and drops control characters.
func CleanText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= 0x20 && r != 0x7f {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
