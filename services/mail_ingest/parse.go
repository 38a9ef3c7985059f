package mail_ingest

import (
	"bytes"
	"net/mail"
	"regexp"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/utils"
)

// headerFieldRegex matches an RFC 5322 field name followed by a colon.
var headerFieldRegex = regexp.MustCompile(`^[\x21-\x39\x3B-\x7E]+:`)

// ParseMessage decodes a raw RFC 5322 message. Input that does not start with a header
// field, or that enmime cannot read, fails with a Parse error wrapping ErrMalformedMessage.
func ParseMessage(raw []byte) (*models.ParsedMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, malformed("empty message")
	}
	firstLine := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		firstLine = raw[:i]
	}
	if !headerFieldRegex.Match(bytes.TrimLeft(firstLine, "\r")) {
		return nil, malformed("message does not start with a header field")
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, malformed(err.Error())
	}
	if len(env.GetHeaderKeys()) == 0 {
		return nil, malformed("message has no headers")
	}

	parsed := &models.ParsedMessage{
		MessageID: utils.NormalizeMessageID(env.GetHeader("Message-ID")),
		Subject:   env.GetHeader("Subject"),
		From:      utils.BareAddress(env.GetHeader("From")),
		Text:      env.Text,
		HTML:      env.HTML,
	}
	if to, err := env.AddressList("To"); err == nil {
		for _, addr := range to {
			parsed.To = append(parsed.To, addr.Address)
		}
	}
	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		parsed.Date = date.UTC()
	}
	for _, perr := range env.Errors {
		parsed.Warnings = append(parsed.Warnings, perr.Error())
	}

	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines)+len(env.OtherParts))
	parts = append(parts, env.Inlines...)
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.OtherParts...)
	for _, part := range parts {
		contentType := utils.DetectImageContentType(part.ContentType, part.Content)
		if contentType == "" || len(part.Content) == 0 {
			continue
		}
		parsed.Images = append(parsed.Images, models.CandidateImage{
			Data:        part.Content,
			ContentType: contentType,
			FileName:    part.FileName,
		})
	}
	return parsed, nil
}

func malformed(reason string) error {
	return imagestack_errors.Parse("mail_ingest.ParseMessage", errors.Wrap(imagestack_errors.ErrMalformedMessage, reason))
}

// stripSoftLineBreaks removes quoted-printable soft breaks and CRLFs so that URLs wrapped
// across encoded lines match again.
func stripSoftLineBreaks(s string) string {
	s = strings.ReplaceAll(s, "=\r\n", "")
	s = strings.ReplaceAll(s, "=\n", "")
	s = strings.ReplaceAll(s, "\r\n", "")
	return s
}
