package domain

// Answer is the structured synthesis result for one question. Citations
// reference the ranked chunks that were handed to the synthesizer.
type Answer struct {
	Summary        string
	KeyFindings    []string
	Consensus      []string
	OpenQuestions  []string
	Citations      []Citation
	PapersAnalyzed int
}
