package model

import "time"

// Message is the normalized view of one email extracted from a mailbox
// container. Every field is safe to use even when the source message was
// malformed; the normalizer degrades to zero values instead of failing.
type Message struct {
	Subject        string
	Sender         string
	Recipients     []string
	SentAt         time.Time
	RawBody        []byte
	BodyText       string
	NormalizedBody string
	HasAttachments bool
	Attachments    []Part
	Size           int64
}

// Part is one attachment-bearing MIME part.
type Part struct {
	Filename string
	Content  []byte
}
