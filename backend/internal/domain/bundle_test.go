package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidenceScore(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"high", 0.9},
		{"HIGH", 0.9},
		{" medium ", 0.7},
		{"low", 0.4},
		{"", 0.7},
		{"certain", 0.7},
		{"0.55", 0.55},
		{"7", 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, ConfidenceScore(tt.in), 1e-9)
		})
	}
}

func TestQuestionStatus_IsOpen(t *testing.T) {
	assert.True(t, QuestionPending.IsOpen())
	assert.True(t, QuestionAssigned.IsOpen())
	assert.True(t, QuestionReopened.IsOpen())
	assert.False(t, QuestionResolved.IsOpen())
	assert.False(t, QuestionDismissed.IsOpen())
}

func TestProvenance(t *testing.T) {
	assert.Equal(t, "upload:m1", Provenance("upload", "m1"))
	assert.Equal(t, "manual", Provenance("", ""))
}

func TestParseSourceType(t *testing.T) {
	st, ok := ParseSourceType("Paste")
	assert.True(t, ok)
	assert.Equal(t, SourcePaste, st)
	_, ok = ParseSourceType("fax")
	assert.False(t, ok)
}
