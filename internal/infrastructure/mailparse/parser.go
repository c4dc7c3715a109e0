package mailparse

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/insurelane/docpipe/internal/core/domain"
)

// Parser reads RFC 5322 messages with nested MIME multiparts. Text parts
// become the body (text/plain preferred over text/html), everything with
// a filename becomes an attachment.
type Parser struct{}

func New() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(r io.Reader) (*domain.ParsedEmail, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	parsed := &domain.ParsedEmail{
		MessageID: strings.TrimSpace(msg.Header.Get("Message-ID")),
		From:      decodeHeader(msg.Header.Get("From")),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		To:        addressList(msg.Header.Get("To")),
		CC:        addressList(msg.Header.Get("Cc")),
	}
	if date, err := msg.Header.Date(); err == nil {
		parsed.Date = date
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	var body bodyAccumulator
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := p.walkMultipart(msg.Body, params["boundary"], parsed, &body); err != nil {
			return nil, err
		}
	} else {
		text, err := decodePart(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		body.add(mediaType, string(text))
	}
	parsed.Body = body.String()
	return parsed, nil
}

func (p *Parser) walkMultipart(r io.Reader, boundary string, parsed *domain.ParsedEmail, body *bodyAccumulator) error {
	if boundary == "" {
		return fmt.Errorf("multipart message without boundary")
	}
	reader := multipart.NewReader(r, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read multipart part: %w", err)
		}

		contentType := part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "text/plain"
		}
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = "application/octet-stream"
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if err := p.walkMultipart(part, params["boundary"], parsed, body); err != nil {
				return err
			}
			continue
		}

		filename := partFilename(part)
		data, err := decodePart(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return fmt.Errorf("decode part %q: %w", filename, err)
		}

		if filename != "" {
			parsed.Attachments = append(parsed.Attachments, domain.ParsedAttachment{
				Filename: filename,
				Data:     data,
			})
			continue
		}
		if strings.HasPrefix(mediaType, "text/") {
			body.add(mediaType, string(data))
		}
	}
}

// bodyAccumulator prefers text/plain: html is only kept until a plain
// part shows up.
type bodyAccumulator struct {
	plain strings.Builder
	html  strings.Builder
}

func (b *bodyAccumulator) add(mediaType, text string) {
	if mediaType == "text/html" {
		b.html.WriteString(text)
		return
	}
	b.plain.WriteString(text)
}

func (b *bodyAccumulator) String() string {
	if s := strings.TrimSpace(b.plain.String()); s != "" {
		return s
	}
	return strings.TrimSpace(b.html.String())
}

func partFilename(part *multipart.Part) string {
	if name := part.FileName(); name != "" {
		return decodeHeader(name)
	}
	return ""
}

func decodePart(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	return io.ReadAll(r)
}

func addressList(header string) []string {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(header)
	if err != nil {
		// Keep the raw header rather than losing the recipient.
		return []string{strings.TrimSpace(header)}
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

var headerDecoder = mime.WordDecoder{}

func decodeHeader(v string) string {
	decoded, err := headerDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}
