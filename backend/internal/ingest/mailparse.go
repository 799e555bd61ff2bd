package ingest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"projectbrain/backend/internal/domain"
	apperrors "projectbrain/backend/pkg/errors"
)

var wordDecoder = &mime.WordDecoder{}

// parseEmail reads an RFC 5322 message, walking multipart bodies for the
// best text part.
func parseEmail(data []byte) (*domain.Message, error) {
	m, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewValidationError("file", fmt.Sprintf("not a valid email message: %v", err))
	}

	msg := &domain.Message{
		Subject: decodeHeader(m.Header.Get("Subject")),
	}
	if from := decodeHeader(m.Header.Get("From")); from != "" {
		msg.FromAddress, msg.FromName = splitAddress(from)
	}
	for _, h := range []struct {
		name string
		kind domain.RecipientKind
	}{
		{"To", domain.RecipientTo},
		{"Cc", domain.RecipientCc},
		{"Bcc", domain.RecipientBcc},
	} {
		if v := m.Header.Get(h.name); v != "" {
			msg.Recipients = append(msg.Recipients, recipientsFrom(h.kind, addressList(v))...)
		}
	}
	if ts, err := m.Header.Date(); err == nil {
		msg.Timestamp = ts
	}
	msg.ThreadID = threadID(m.Header)

	plain, html, err := readBody(m.Header.Get("Content-Type"), m.Header.Get("Content-Transfer-Encoding"), m.Body)
	if err != nil {
		return nil, apperrors.NewValidationError("file", fmt.Sprintf("unreadable email body: %v", err))
	}
	switch {
	case strings.TrimSpace(plain) != "":
		msg.BodyText = plain
	case strings.TrimSpace(html) != "":
		msg.BodyText = htmlToText(html)
	}
	return msg, nil
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(decoded)
}

func addressList(v string) []string {
	parser := mail.AddressParser{WordDecoder: wordDecoder}
	list, err := parser.ParseList(v)
	if err != nil {
		return splitList(decodeHeader(v))
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}

// threadID uses the root of References, then In-Reply-To, then
// Thread-Index, then the message's own id.
func threadID(h mail.Header) string {
	if refs := strings.Fields(h.Get("References")); len(refs) > 0 {
		return trimMessageID(refs[0])
	}
	if ids := strings.Fields(h.Get("In-Reply-To")); len(ids) > 0 {
		return trimMessageID(ids[0])
	}
	if v := strings.TrimSpace(h.Get("Thread-Index")); v != "" {
		// The first 22 bytes (base64) identify the conversation
		if len(v) > 30 {
			v = v[:30]
		}
		return "thread-index:" + v
	}
	return trimMessageID(h.Get("Message-Id"))
}

func trimMessageID(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

// readBody returns the first text/plain and text/html content found
func readBody(contentType, encoding string, r io.Reader) (plain, html string, err error) {
	mediaType, params, parseErr := mime.ParseMediaType(contentType)
	if contentType == "" || parseErr != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", "", fmt.Errorf("multipart message without boundary")
		}
		mr := multipart.NewReader(r, boundary)
		for {
			part, nextErr := mr.NextPart()
			if nextErr == io.EOF {
				break
			}
			if nextErr != nil {
				return plain, html, nextErr
			}
			if isAttachment(part.Header.Get("Content-Disposition")) {
				continue
			}
			p, h, partErr := readBody(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if partErr != nil {
				return plain, html, partErr
			}
			if plain == "" {
				plain = p
			}
			if html == "" {
				html = h
			}
		}
		return plain, html, nil
	}

	body, err := io.ReadAll(decodeTransfer(encoding, r))
	if err != nil {
		return "", "", err
	}
	switch mediaType {
	case "text/plain":
		return string(body), "", nil
	case "text/html":
		return "", string(body), nil
	case "message/rfc822":
		inner, err := parseEmail(body)
		if err != nil {
			return "", "", err
		}
		return inner.BodyText, "", nil
	}
	return "", "", nil
}

func isAttachment(disposition string) bool {
	d, _, err := mime.ParseMediaType(disposition)
	return err == nil && strings.EqualFold(d, "attachment")
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}

var blockElements = "p, div, li, tr, h1, h2, h3, h4, h5, h6, blockquote, pre, table"

// htmlToText renders an HTML body as plain text with paragraph breaks
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, head, title").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("- ")
	})
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, strings.Join(strings.Fields(l), " "))
	}
	return cleanBody(strings.Join(out, "\n"))
}
