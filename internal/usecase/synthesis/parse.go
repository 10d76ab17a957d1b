package synthesis

import (
	"regexp"
	"strings"

	"github.com/atlas-research/scirag/internal/domain"
)

var sectionHeader = regexp.MustCompile(`\*\*([^*]+)\*\*`)

const summaryFallbackLimit = 500

// ParseAnswer splits the model output on **Section** headers into the
// structured answer. Output that matches no known section lands whole in
// Summary, truncated, so a misbehaving model still yields something usable.
func ParseAnswer(content string) domain.Answer {
	var ans domain.Answer

	section := ""
	last := 0
	for _, m := range sectionHeader.FindAllStringSubmatchIndex(content, -1) {
		applySection(&ans, section, content[last:m[0]])
		section = canonicalSection(content[m[2]:m[3]])
		last = m[1]
	}
	applySection(&ans, section, content[last:])

	if ans.Summary == "" && len(ans.KeyFindings) == 0 {
		ans.Summary = truncate(strings.TrimSpace(content), summaryFallbackLimit)
	}
	return ans
}

func canonicalSection(header string) string {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "summary":
		return "summary"
	case "key findings":
		return "key_findings"
	case "consensus":
		return "consensus"
	case "open questions":
		return "open_questions"
	default:
		return ""
	}
}

func applySection(ans *domain.Answer, section, part string) {
	part = strings.TrimSpace(part)
	if section == "" || part == "" {
		return
	}
	switch section {
	case "summary":
		ans.Summary = part
	case "key_findings":
		ans.KeyFindings = parseBullets(part)
	case "consensus":
		ans.Consensus = parseBullets(part)
	case "open_questions":
		ans.OpenQuestions = parseBullets(part)
	}
}

// parseBullets accepts "-" and "•" bullets; bare lines count as items too,
// since the model sometimes writes Consensus as plain prose.
func parseBullets(part string) []string {
	var items []string
	for _, line := range strings.Split(part, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "-"):
			items = append(items, strings.TrimSpace(line[1:]))
		case strings.HasPrefix(line, "•"):
			items = append(items, strings.TrimSpace(strings.TrimPrefix(line, "•")))
		case line != "" && !strings.HasPrefix(line, "*"):
			items = append(items, line)
		}
	}
	return items
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
