package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/brandon/mailcore/pkg/types"
)

// Compose renders msg as an RFC 5322 message. Bcc recipients are never
// written to the headers.
func Compose(msg *types.OutgoingMessage, now time.Time) ([]byte, error) {
	if len(msg.Recipients()) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", msg.From, err)
	}
	h.SetAddressList("From", []*mail.Address{from})

	for key, list := range map[string][]string{"To": msg.To, "Cc": msg.Cc} {
		if len(list) == 0 {
			continue
		}
		addrs, err := parseAddresses(list)
		if err != nil {
			return nil, err
		}
		h.SetAddressList(key, addrs)
	}
	if msg.ReplyTo != "" {
		addrs, err := parseAddresses([]string{msg.ReplyTo})
		if err != nil {
			return nil, err
		}
		h.SetAddressList("Reply-To", addrs)
	}
	if msg.InReplyTo != "" {
		id := strings.Trim(msg.InReplyTo, "<> ")
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", []string{id})
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	text := msg.BodyText
	if text == "" && msg.BodyHTML == "" {
		text = "\r\n"
	}
	if text != "" {
		if err := writeInline(tw, "text/plain", text); err != nil {
			return nil, err
		}
	}
	if msg.BodyHTML != "" {
		if err := writeInline(tw, "text/html", msg.BodyHTML); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	for _, a := range msg.Attachments {
		var ah mail.AttachmentHeader
		mimeType := a.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		ah.SetContentType(mimeType, nil)
		ah.SetFilename(a.Filename)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to add attachment %s: %w", a.Filename, err)
		}
		if _, err := w.Write(a.Content); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(th)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}

func parseAddresses(list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		a, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}
