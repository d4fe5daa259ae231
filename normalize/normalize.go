// Package normalize turns one raw RFC 5322 message into the canonical fields
// the ingestion pipeline fingerprints and stores. It is total over malformed
// input: every sub-step degrades to a safe default instead of failing.
package normalize

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
	"golang.org/x/text/encoding/charmap"

	"github.com/corentin-larose/pst-ingest/model"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Normalizer parses raw messages. The clock is injectable because a missing
// or unparseable Date header falls back to the processing time.
type Normalizer struct {
	Now func() time.Time
}

func New() *Normalizer {
	return &Normalizer{Now: time.Now}
}

// Parse never returns an error; a message that cannot be parsed at all still
// yields a usable Message with its undecodable fields zeroed.
func (n *Normalizer) Parse(raw []byte) *model.Message {
	msg := &model.Message{
		SentAt: n.Now(),
		Size:   int64(len(raw)),
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && mr == nil {
		// Header is unreadable. Keep whatever body text we can salvage so
		// the fingerprint still has something to bite on.
		_, body := splitRaw(raw)
		msg.RawBody = body
		msg.BodyText = decodeLossy(body)
		msg.NormalizedBody = collapse(html2text.HTML2Text(msg.BodyText))
		msg.Recipients = []string{}
		return msg
	}

	header := mr.Header

	msg.Subject = headerText(header, "Subject")
	msg.Sender = firstAddress(headerText(header, "From"))
	msg.Recipients = ExtractAddresses(headerText(header, "To") + " " + headerText(header, "Cc"))

	if date, err := header.Date(); err == nil && !date.IsZero() {
		msg.SentAt = date
	}

	n.walkParts(mr, msg)

	msg.NormalizedBody = collapse(html2text.HTML2Text(msg.BodyText))
	return msg
}

func (n *Normalizer) walkParts(mr *mail.Reader, msg *model.Message) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			// Unknown charsets still yield a readable part with raw bytes;
			// anything else ends the walk with what we have so far.
			if !message.IsUnknownCharset(err) || part == nil {
				return
			}
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ctype, params, _ := h.ContentType()
			if name := params["name"]; name != "" {
				msg.HasAttachments = true
				if content, err := io.ReadAll(part.Body); err == nil && len(content) > 0 {
					msg.Attachments = append(msg.Attachments, model.Part{Filename: decodeLossy([]byte(name)), Content: content})
				}
				continue
			}
			if msg.BodyText != "" {
				continue
			}
			if ctype == "text/plain" || ctype == "text/html" {
				content, err := io.ReadAll(part.Body)
				if err != nil || len(content) == 0 {
					continue
				}
				msg.RawBody = content
				msg.BodyText = decodeLossy(content)
			}
		case *mail.AttachmentHeader:
			filename, ferr := h.Filename()
			if ferr != nil || filename == "" {
				continue
			}
			msg.HasAttachments = true
			content, err := io.ReadAll(part.Body)
			if err != nil || len(content) == 0 {
				continue
			}
			msg.Attachments = append(msg.Attachments, model.Part{Filename: filename, Content: content})
		}
	}
}

// ExtractAddresses returns the sorted, deduplicated, lowercased set of
// syntactically valid addresses found in a decoded header string. The sender
// is deliberately not excluded when it also appears as a recipient.
func ExtractAddresses(text string) []string {
	matches := emailPattern.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func firstAddress(text string) string {
	if m := emailPattern.FindString(strings.ToLower(text)); m != "" {
		return m
	}
	return ""
}

// headerText returns the RFC 2047 decoded value of a header field, falling
// back to the raw value when decoding fails.
func headerText(h mail.Header, key string) string {
	text, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return text
}

// decodeLossy forces arbitrary bytes into valid UTF-8: pass through valid
// UTF-8, otherwise try windows-1252, finally replace undecodable bytes.
func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if decoded, err := charmap.Windows1252.NewDecoder().Bytes(b); err == nil && utf8.Valid(decoded) {
		return string(decoded)
	}
	return strings.ToValidUTF8(string(b), "�")
}

// collapse reduces all whitespace runs to single spaces between tokens.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func splitRaw(raw []byte) (header, body []byte) {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}
	return raw, nil
}
