package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNormalizer(t *testing.T) (*Normalizer, time.Time) {
	t.Helper()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	n := New()
	n.Now = func() time.Time { return now }
	return n, now
}

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParse_Addresses(t *testing.T) {
	n, _ := fixedNormalizer(t)

	raw := crlf(`From: Alice <ALICE@Example.com>
To: bob@x.com, a@x.com
Cc: CAROL@x.com, bob@x.com
Subject: Hello
Date: Mon, 02 Jan 2006 15:04:05 -0700

plain body
`)
	msg := n.Parse(raw)

	assert.Equal(t, "alice@example.com", msg.Sender)
	assert.Equal(t, []string{"a@x.com", "bob@x.com", "carol@x.com"}, msg.Recipients,
		"recipients must be lowercased, deduplicated and sorted")
}

func TestParse_SenderNotExcludedFromRecipients(t *testing.T) {
	n, _ := fixedNormalizer(t)

	raw := crlf(`From: a@x.com
To: b@x.com, a@x.com
Subject: Hello

body
`)
	msg := n.Parse(raw)

	assert.Equal(t, "a@x.com", msg.Sender)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, msg.Recipients,
		"a sender appearing in To stays in the recipient set")
}

func TestParse_EncodedSubject(t *testing.T) {
	n, _ := fixedNormalizer(t)

	raw := crlf(`From: a@x.com
To: b@x.com
Subject: =?utf-8?q?Caf=C3=A9_report?=

body
`)
	msg := n.Parse(raw)

	assert.Equal(t, "Café report", msg.Subject)
}

func TestParse_DateFallback(t *testing.T) {
	n, now := fixedNormalizer(t)

	for _, raw := range [][]byte{
		crlf("From: a@x.com\nTo: b@x.com\nSubject: no date\n\nbody\n"),
		crlf("From: a@x.com\nTo: b@x.com\nSubject: bad date\nDate: not a date\n\nbody\n"),
	} {
		msg := n.Parse(raw)
		assert.True(t, msg.SentAt.Equal(now), "missing or malformed Date must fall back to the processing time")
	}
}

func TestParse_DateParsed(t *testing.T) {
	n, now := fixedNormalizer(t)

	raw := crlf(`From: a@x.com
To: b@x.com
Subject: dated
Date: Mon, 02 Jan 2006 15:04:05 -0700

body
`)
	msg := n.Parse(raw)
	assert.False(t, msg.SentAt.Equal(now))
	assert.Equal(t, 2006, msg.SentAt.Year())
}

func TestParse_HTMLBodyNormalized(t *testing.T) {
	n, _ := fixedNormalizer(t)

	raw := crlf(`From: a@x.com
To: b@x.com
Subject: html
MIME-Version: 1.0
Content-Type: text/html; charset=utf-8

<p>Hello   <b>World</b></p>
<div>second&nbsp;line</div>
`)
	msg := n.Parse(raw)

	assert.NotContains(t, msg.NormalizedBody, "<")
	assert.Contains(t, msg.NormalizedBody, "Hello World")
	assert.NotContains(t, msg.NormalizedBody, "  ", "whitespace must collapse to single spaces")
}

func TestParse_QuotedPrintableCharset(t *testing.T) {
	n, _ := fixedNormalizer(t)

	raw := crlf(`From: a@x.com
To: b@x.com
Subject: charset
MIME-Version: 1.0
Content-Type: text/plain; charset=iso-8859-1
Content-Transfer-Encoding: quoted-printable

Caf=E9 au lait
`)
	msg := n.Parse(raw)

	assert.Contains(t, msg.BodyText, "Café au lait")
}

func TestParse_MultipartAttachment(t *testing.T) {
	n, _ := fixedNormalizer(t)

	raw := crlf(`From: a@x.com
To: b@x.com
Subject: with attachment
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: text/plain; charset=utf-8

see attached
--b1
Content-Type: application/octet-stream
Content-Disposition: attachment; filename="data.bin"
Content-Transfer-Encoding: base64

aGVsbG8=
--b1--
`)
	msg := n.Parse(raw)

	assert.True(t, msg.HasAttachments)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "data.bin", msg.Attachments[0].Filename)
	assert.Equal(t, []byte("hello"), msg.Attachments[0].Content)
	assert.Contains(t, msg.BodyText, "see attached")
}

func TestParse_FirstTextPartWins(t *testing.T) {
	n, _ := fixedNormalizer(t)

	raw := crlf(`From: a@x.com
To: b@x.com
Subject: alternative
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="b2"

--b2
Content-Type: text/plain; charset=utf-8

plain version
--b2
Content-Type: text/html; charset=utf-8

<p>html version</p>
--b2--
`)
	msg := n.Parse(raw)

	assert.Contains(t, msg.BodyText, "plain version")
	assert.NotContains(t, msg.BodyText, "html version")
}

func TestParse_GarbageInputStillTotal(t *testing.T) {
	n, now := fixedNormalizer(t)

	msg := n.Parse([]byte("\x00\x01\x02 not a message at all"))

	assert.NotNil(t, msg)
	assert.True(t, msg.SentAt.Equal(now))
	assert.Empty(t, msg.Sender)
	assert.Empty(t, msg.Recipients)
}

func TestExtractAddresses(t *testing.T) {
	got := ExtractAddresses("Contact Bob <BOB@X.COM> or alice@y.org, bob@x.com again")
	assert.Equal(t, []string{"alice@y.org", "bob@x.com"}, got)

	assert.Empty(t, ExtractAddresses("no addresses here"))
	assert.Empty(t, ExtractAddresses(""))
}
