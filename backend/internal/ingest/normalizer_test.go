package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectbrain/backend/internal/domain"
	apperrors "projectbrain/backend/pkg/errors"
)

func TestNormalize_Fields(t *testing.T) {
	n := NewNormalizer()
	msg, err := n.Normalize(RawInput{Fields: &MessageFields{
		From:      "Alice Smith <Alice@Example.com>",
		To:        []string{"bob@example.com", "Carol <carol@example.com>"},
		Cc:        []string{"Dave"},
		Subject:   "  Launch plan ",
		Body:      "Hello\r\n\r\n\r\nWorld  ",
		Timestamp: "2024-03-01T10:00:00+02:00",
	}}, domain.SourceAPI)
	require.NoError(t, err)

	assert.Equal(t, domain.SourceAPI, msg.SourceType)
	assert.Equal(t, "alice@example.com", msg.FromAddress)
	assert.Equal(t, "Alice Smith", msg.FromName)
	assert.Equal(t, "Launch plan", msg.Subject)
	assert.Equal(t, "Hello\n\nWorld", msg.BodyText)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), msg.Timestamp)
	assert.Equal(t, time.UTC, msg.Timestamp.Location())

	require.Len(t, msg.Recipients, 3)
	assert.Equal(t, domain.Recipient{Kind: domain.RecipientTo, Address: "bob@example.com"}, msg.Recipients[0])
	assert.Equal(t, "Carol", msg.Recipients[1].Name)
	assert.Equal(t, domain.Recipient{Kind: domain.RecipientCc, Name: "Dave"}, msg.Recipients[2])
}

func TestNormalize_BadTimestamp(t *testing.T) {
	_, err := NewNormalizer().Normalize(RawInput{Fields: &MessageFields{Body: "x", Timestamp: "next tuesday"}}, domain.SourceAPI)
	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "timestamp", ve.Field)
}

func TestNormalize_NoContent(t *testing.T) {
	n := NewNormalizer()
	tests := []struct {
		name string
		raw  RawInput
	}{
		{"empty", RawInput{}},
		{"whitespace paste", RawInput{Text: "  \n\t "}},
		{"headers only", RawInput{Text: "From: alice@example.com\nTo: bob@example.com\n"}},
		{"empty fields", RawInput{Fields: &MessageFields{From: "alice@example.com"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.raw, domain.SourcePaste)
			assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
		})
	}
}

func TestNormalize_PasteWithHeaders(t *testing.T) {
	text := "From: Alice <alice@example.com>\n" +
		"To: bob@example.com, Carol <carol@example.com>\n" +
		"Subject: Plan\n" +
		"Date: Mon, 2 Jan 2006 15:04:05 -0700\n" +
		"\n" +
		"Hello team\n\n\n\nBye"

	msg, err := NewNormalizer().Normalize(RawInput{Text: text}, domain.SourcePaste)
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", msg.FromAddress)
	assert.Equal(t, "Alice", msg.FromName)
	assert.Equal(t, "Plan", msg.Subject)
	assert.Equal(t, "Hello team\n\nBye", msg.BodyText)
	assert.Equal(t, time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), msg.Timestamp)
	require.Len(t, msg.Recipients, 2)
	assert.Equal(t, "carol@example.com", msg.Recipients[1].Address)
}

func TestNormalize_PasteWithoutHeaders(t *testing.T) {
	msg, err := NewNormalizer().Normalize(RawInput{Text: "Notes: we agreed on Friday\nsecond line"}, domain.SourcePaste)
	require.NoError(t, err)

	assert.Empty(t, msg.FromAddress)
	assert.True(t, msg.Timestamp.IsZero())
	assert.Equal(t, "Notes: we agreed on Friday\nsecond line", msg.BodyText)
}

func TestNormalize_PasteUnparseableDateStaysInBody(t *testing.T) {
	n := NewNormalizer()

	msg, err := n.Normalize(RawInput{Text: "Date: tbd, see below\nWe still need a venue."}, domain.SourcePaste)
	require.NoError(t, err)
	assert.True(t, msg.Timestamp.IsZero())
	assert.Equal(t, "Date: tbd, see below\nWe still need a venue.", msg.BodyText)

	msg, err = n.Normalize(RawInput{Text: "Subject: Offsite\nDate: tbd, see below\nWe still need a venue."}, domain.SourcePaste)
	require.NoError(t, err)
	assert.Equal(t, "Offsite", msg.Subject)
	assert.Equal(t, "Date: tbd, see below\nWe still need a venue.", msg.BodyText)
}

func TestNormalize_Files(t *testing.T) {
	n := NewNormalizer()

	msg, err := n.Normalize(RawInput{Filename: "notes.TXT", Data: []byte("Subject: Notes\n\nbody")}, domain.SourceUpload)
	require.NoError(t, err)
	assert.Equal(t, "Notes", msg.Subject)

	_, err = n.Normalize(RawInput{Filename: "deck.pdf", Data: []byte("%PDF")}, domain.SourceUpload)
	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, ve.Message, ".pdf")
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		in, addr, name string
	}{
		{"Alice <ALICE@x.com>", "alice@x.com", "Alice"},
		{"bob@x.com", "bob@x.com", ""},
		{"\"Lee, Ann\" <ann@x.com>", "ann@x.com", "Lee, Ann"},
		{"Carol Jones", "", "Carol Jones"},
		{"Dave <not an address>", "", "Dave"},
	}
	for _, tt := range tests {
		addr, name := splitAddress(tt.in)
		assert.Equal(t, tt.addr, addr, tt.in)
		assert.Equal(t, tt.name, name, tt.in)
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{
		"2024-03-01",
		"2024-03-01 09:30",
		"Fri, 01 Mar 2024 09:30:00 +0000",
		"March 1, 2024",
		"Friday, March 1, 2024 at 9:30 AM",
	} {
		ts, ok := parseTimestamp(s)
		assert.True(t, ok, s)
		assert.Equal(t, 2024, ts.Year(), s)
	}
	_, ok := parseTimestamp("soon")
	assert.False(t, ok)
}

func TestCleanBody(t *testing.T) {
	assert.Equal(t, "a\n\nb", cleanBody("  \r\na  \r\n\r\n\r\n\r\nb\t\n\n"))
	assert.Equal(t, "", cleanBody(strings.Repeat("\n", 5)))
}
