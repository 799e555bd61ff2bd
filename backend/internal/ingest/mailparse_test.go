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

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseEmail_Plain(t *testing.T) {
	raw := crlf(`From: Alice Smith <Alice@Example.com>
To: Bob <bob@example.com>, carol@example.com
Cc: "Lee, Ann" <ann@example.com>
Subject: =?UTF-8?B?UsOpdW5pb24=?= tomorrow
Date: Fri, 01 Mar 2024 09:30:00 +0100
Message-Id: <abc123@mail.example.com>

Hi all,

See you tomorrow.
`)
	msg, err := parseEmail(raw)
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", msg.FromAddress)
	assert.Equal(t, "Alice Smith", msg.FromName)
	assert.Equal(t, "Réunion tomorrow", msg.Subject)
	assert.True(t, msg.Timestamp.Equal(time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)))
	assert.Equal(t, "abc123@mail.example.com", msg.ThreadID)
	assert.Contains(t, msg.BodyText, "See you tomorrow.")

	require.Len(t, msg.Recipients, 3)
	assert.Equal(t, domain.Recipient{Kind: domain.RecipientTo, Address: "bob@example.com", Name: "Bob"}, msg.Recipients[0])
	assert.Equal(t, "carol@example.com", msg.Recipients[1].Address)
	assert.Equal(t, domain.Recipient{Kind: domain.RecipientCc, Address: "ann@example.com", Name: "Lee, Ann"}, msg.Recipients[2])
}

func TestParseEmail_ThreadFromReferences(t *testing.T) {
	raw := crlf(`From: bob@example.com
Subject: Re: plan
References: <root@example.com> <second@example.com>
In-Reply-To: <second@example.com>
Message-Id: <third@example.com>

ok
`)
	msg, err := parseEmail(raw)
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", msg.ThreadID)
}

func TestParseEmail_MultipartPrefersPlainAndSkipsAttachments(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: Report
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: quoted-printable

The budget is approved =E2=80=94 ship it.
--inner
Content-Type: text/html; charset=utf-8

<p>The budget is <b>approved</b></p>
--inner--
--outer
Content-Type: text/plain
Content-Disposition: attachment; filename="secret.txt"

attachment text
--outer--
`)
	msg, err := parseEmail(raw)
	require.NoError(t, err)
	assert.Contains(t, msg.BodyText, "The budget is approved")
	assert.NotContains(t, msg.BodyText, "attachment text")
	assert.NotContains(t, msg.BodyText, "<p>")
}

func TestParseEmail_HTMLOnly(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: Update
Content-Type: text/html; charset=utf-8

<html><head><style>p { color: red; }</style></head><body><p>First point</p><ul><li>One</li><li>Two</li></ul></body></html>
`)
	msg, err := parseEmail(raw)
	require.NoError(t, err)
	assert.Contains(t, msg.BodyText, "First point")
	assert.Contains(t, msg.BodyText, "- One")
	assert.NotContains(t, msg.BodyText, "color")
}

func TestParseEmail_Base64Body(t *testing.T) {
	raw := crlf(`From: alice@example.com
Subject: Encoded
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: base64

UGxhaW4gdGV4dCBpbiBiYXNlNjQuCg==
`)
	msg, err := parseEmail(raw)
	require.NoError(t, err)
	assert.Equal(t, "Plain text in base64.", strings.TrimSpace(msg.BodyText))
}

func TestParseEmail_Invalid(t *testing.T) {
	_, err := parseEmail([]byte("this is not an email"))
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
}

func TestNormalize_EmlUpload(t *testing.T) {
	raw := crlf(`From: Alice <alice@example.com>
To: bob@example.com
Subject: Hello
Date: Fri, 01 Mar 2024 09:30:00 +0000

Body text
`)
	msg, err := NewNormalizer().Normalize(RawInput{Filename: "hello.eml", Data: raw}, domain.SourceUpload)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceUpload, msg.SourceType)
	assert.Equal(t, "Body text", msg.BodyText)
	assert.Equal(t, time.UTC, msg.Timestamp.Location())
}

func TestHTMLToText(t *testing.T) {
	text := htmlToText(`<div>Hello <b>there</b></div><script>alert(1)</script><p>Line<br>Break</p>`)
	assert.Contains(t, text, "Hello there")
	assert.Contains(t, text, "Line\nBreak")
	assert.NotContains(t, text, "alert")
}
