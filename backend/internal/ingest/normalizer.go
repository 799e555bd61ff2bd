package ingest

import (
	"bufio"
	"net/mail"
	"path/filepath"
	"strings"
	"time"

	"projectbrain/backend/internal/domain"
	apperrors "projectbrain/backend/pkg/errors"
)

// RawInput is one unit of content handed to ingestion. Exactly one of
// Data (a file), Text (pasted content) or Fields (structured input) is
// expected to be set.
type RawInput struct {
	Filename string
	Data     []byte
	Text     string
	Fields   *MessageFields
}

// MessageFields is structured message input from the API
type MessageFields struct {
	From      string   `json:"from"`
	FromName  string   `json:"from_name"`
	To        []string `json:"to"`
	Cc        []string `json:"cc"`
	Bcc       []string `json:"bcc"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Timestamp string   `json:"timestamp"`
	ThreadID  string   `json:"thread_id"`
}

func (r RawInput) empty() bool {
	return len(r.Data) == 0 && strings.TrimSpace(r.Text) == "" && r.Fields == nil
}

// Normalizer turns raw input into a canonical message. It performs no I/O.
// A message without a date keeps a zero Timestamp; the pipeline stamps it
// after fingerprinting so re-submitting the same undated text is caught.
type Normalizer struct{}

// NewNormalizer creates a content normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts raw into a canonical message tagged with sourceType
func (n *Normalizer) Normalize(raw RawInput, sourceType domain.SourceType) (*domain.Message, error) {
	if raw.empty() {
		return nil, apperrors.ErrNoContent()
	}

	var (
		msg *domain.Message
		err error
	)
	switch {
	case raw.Fields != nil:
		msg, err = fromFields(raw.Fields)
	case len(raw.Data) > 0:
		msg, err = fromFile(raw.Filename, raw.Data)
	default:
		msg = fromPastedText(raw.Text)
	}
	if err != nil {
		return nil, err
	}

	msg.SourceType = sourceType
	msg.Subject = strings.TrimSpace(msg.Subject)
	msg.BodyText = cleanBody(msg.BodyText)
	msg.FromAddress = strings.ToLower(strings.TrimSpace(msg.FromAddress))
	if msg.BodyText == "" && msg.Subject == "" {
		return nil, apperrors.ErrNoContent()
	}
	if !msg.Timestamp.IsZero() {
		msg.Timestamp = msg.Timestamp.UTC()
	}
	return msg, nil
}

func fromFile(filename string, data []byte) (*domain.Message, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".eml", "":
		return parseEmail(data)
	case ".txt", ".text", ".md":
		return fromPastedText(string(data)), nil
	}
	return nil, apperrors.NewValidationError("file", "unsupported file type: "+filepath.Ext(filename))
}

func fromFields(f *MessageFields) (*domain.Message, error) {
	msg := &domain.Message{
		FromName: strings.TrimSpace(f.FromName),
		Subject:  f.Subject,
		BodyText: f.Body,
		ThreadID: strings.TrimSpace(f.ThreadID),
	}
	if from := strings.TrimSpace(f.From); from != "" {
		addr, name := splitAddress(from)
		msg.FromAddress = addr
		if msg.FromName == "" {
			msg.FromName = name
		}
	}
	msg.Recipients = append(msg.Recipients, recipientsFrom(domain.RecipientTo, f.To)...)
	msg.Recipients = append(msg.Recipients, recipientsFrom(domain.RecipientCc, f.Cc)...)
	msg.Recipients = append(msg.Recipients, recipientsFrom(domain.RecipientBcc, f.Bcc)...)

	if ts := strings.TrimSpace(f.Timestamp); ts != "" {
		parsed, ok := parseTimestamp(ts)
		if !ok {
			return nil, apperrors.NewValidationError("timestamp", "unrecognized timestamp: "+ts)
		}
		msg.Timestamp = parsed
	}
	return msg, nil
}

var pasteHeaders = map[string]bool{
	"from": true, "to": true, "cc": true, "bcc": true,
	"subject": true, "date": true, "sent": true,
}

// fromPastedText reads an optional leading "Header: value" block, as
// produced when copying an email out of a mail client, then the body.
func fromPastedText(text string) *domain.Message {
	msg := &domain.Message{}
	scanner := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(text, "\r\n", "\n")))
	scanner.Buffer(make([]byte, 0, 64*1024), len(text)+1)

	var (
		body      []string
		inHeaders = true
		sawHeader bool
	)
	for scanner.Scan() {
		line := scanner.Text()
		if inHeaders {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				if sawHeader {
					inHeaders = false
				}
				continue
			}
			key, value, ok := strings.Cut(trimmed, ":")
			key = strings.ToLower(strings.TrimSpace(key))
			if ok && pasteHeaders[key] && applyPasteHeader(msg, key, strings.TrimSpace(value)) {
				sawHeader = true
				continue
			}
			// Anything else, including an unparseable date, starts the body
			inHeaders = false
		}
		body = append(body, line)
	}
	msg.BodyText = strings.Join(body, "\n")
	return msg
}

// applyPasteHeader reports false when value is not a usable header value
func applyPasteHeader(msg *domain.Message, key, value string) bool {
	switch key {
	case "from":
		msg.FromAddress, msg.FromName = splitAddress(value)
	case "to":
		msg.Recipients = append(msg.Recipients, recipientsFrom(domain.RecipientTo, splitList(value))...)
	case "cc":
		msg.Recipients = append(msg.Recipients, recipientsFrom(domain.RecipientCc, splitList(value))...)
	case "bcc":
		msg.Recipients = append(msg.Recipients, recipientsFrom(domain.RecipientBcc, splitList(value))...)
	case "subject":
		msg.Subject = value
	case "date", "sent":
		ts, ok := parseTimestamp(value)
		if !ok {
			return false
		}
		msg.Timestamp = ts
	}
	return true
}

// splitAddress accepts "Name <addr>", a bare address or a bare name
func splitAddress(s string) (address, name string) {
	s = strings.TrimSpace(s)
	if a, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(a.Address), a.Name
	}
	if open := strings.LastIndex(s, "<"); open >= 0 {
		if end := strings.Index(s[open:], ">"); end > 0 {
			address = strings.TrimSpace(s[open+1 : open+end])
			name = strings.Trim(strings.TrimSpace(s[:open]), `"'`)
			if strings.Contains(address, "@") {
				return strings.ToLower(address), name
			}
			return "", name
		}
	}
	if strings.Contains(s, "@") && !strings.Contains(s, " ") {
		return strings.ToLower(s), ""
	}
	return "", strings.Trim(s, `"'`)
}

func splitList(s string) []string {
	if list, err := mail.ParseAddressList(s); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.String())
		}
		return out
	}
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
}

func recipientsFrom(kind domain.RecipientKind, values []string) []domain.Recipient {
	out := make([]domain.Recipient, 0, len(values))
	for _, v := range values {
		addr, name := splitAddress(v)
		if addr == "" && name == "" {
			continue
		}
		out = append(out, domain.Recipient{Kind: kind, Address: addr, Name: name})
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006 at 3:04 PM",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Mon, Jan 2, 2006 at 3:04 PM",
	"2 Jan 2006 15:04",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := mail.ParseDate(s); err == nil {
		return t, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// cleanBody normalizes line endings, trims trailing spaces and collapses
// runs of blank lines.
func cleanBody(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t ")
		if l == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
