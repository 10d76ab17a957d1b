package postgres

import (
	"strconv"
	"strings"
)

// formatVector renders a float32 slice in pgvector's text input format,
// e.g. "[0.1,0.2,0.3]". The value is bound as a parameter and cast with
// ::vector on the SQL side.
func formatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
