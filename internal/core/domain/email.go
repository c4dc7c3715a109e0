package domain

import "time"

// ParsedEmail is the structured form of a raw RFC 5322 message, produced
// by the email parser before intake submission.
type ParsedEmail struct {
	MessageID   string
	From        string
	To          []string
	CC          []string
	Subject     string
	Date        time.Time
	Body        string
	Attachments []ParsedAttachment
}

// ParsedAttachment is one decoded attachment payload, in arrival order.
type ParsedAttachment struct {
	Filename string
	Data     []byte
}
