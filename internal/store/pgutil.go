package store

import (
	"strconv"
	"strings"
)

func itoa(n int) string { return strconv.Itoa(n) }

// vectorLiteral renders a float32 slice as a pgvector text literal. A nil or
// empty embedding is stored as SQL NULL (cast is skipped by passing nil).
func vectorLiteral(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
