package mailparse

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
)

func TestParsePlainEmail(t *testing.T) {
	raw := strings.Join([]string{
		"Message-ID: <abc@mail.example.com>",
		"From: Broker <broker@example.com>",
		"To: claims@example.com, desk@example.com",
		"Subject: Renewal",
		"Date: Mon, 24 Aug 2026 10:15:00 +0000",
		"",
		"Please renew the policy.",
	}, "\r\n")

	parsed, err := New().Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.MessageID != "<abc@mail.example.com>" {
		t.Fatalf("message id = %q", parsed.MessageID)
	}
	if len(parsed.To) != 2 || parsed.To[0] != "claims@example.com" {
		t.Fatalf("to = %v", parsed.To)
	}
	if parsed.Body != "Please renew the policy." {
		t.Fatalf("body = %q", parsed.Body)
	}
	if parsed.Date.IsZero() {
		t.Fatal("expected parsed date")
	}
	if len(parsed.Attachments) != 0 {
		t.Fatalf("attachments = %d", len(parsed.Attachments))
	}
}

func TestParseMultipartWithAttachment(t *testing.T) {
	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 claim"))
	raw := strings.Join([]string{
		"Message-ID: <xyz@mail.example.com>",
		"From: broker@example.com",
		"To: claims@example.com",
		"Subject: Claim documents",
		`Content-Type: multipart/mixed; boundary="frontier"`,
		"",
		"--frontier",
		`Content-Type: multipart/alternative; boundary="inner"`,
		"",
		"--inner",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"See the attached claim=2E",
		"--inner",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>See the attached claim.</p>",
		"--inner--",
		"--frontier",
		"Content-Type: application/pdf",
		"Content-Transfer-Encoding: base64",
		`Content-Disposition: attachment; filename="claim.pdf"`,
		"",
		pdf,
		"--frontier--",
		"",
	}, "\r\n")

	parsed, err := New().Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Body != "See the attached claim." {
		t.Fatalf("body = %q, want plain part decoded", parsed.Body)
	}
	if len(parsed.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(parsed.Attachments))
	}
	att := parsed.Attachments[0]
	if att.Filename != "claim.pdf" {
		t.Fatalf("filename = %q", att.Filename)
	}
	if string(att.Data) != "%PDF-1.4 claim" {
		t.Fatalf("data = %q", att.Data)
	}
}

func TestParseDecodesEncodedSubject(t *testing.T) {
	raw := fmt.Sprintf("Subject: %s\r\nFrom: a@example.com\r\n\r\nbody",
		"=?UTF-8?B?"+base64.StdEncoding.EncodeToString([]byte("Kündigung Police"))+"?=")

	parsed, err := New().Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Subject != "Kündigung Police" {
		t.Fatalf("subject = %q", parsed.Subject)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := New().Parse(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}
