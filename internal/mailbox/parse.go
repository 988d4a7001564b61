package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Parse extracts the sender address and text body from a raw RFC822
// message. The first text/plain part wins; a message with no text/plain
// part falls back to its first inline part, decoded.
func Parse(raw []byte) (Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	var sender string
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		sender = addrs[0].Address
	}

	var plain, firstPart string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Message{}, fmt.Errorf("read message part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			// Attachments are not a body candidate.
			continue
		}

		body, err := io.ReadAll(p.Body)
		if err != nil {
			return Message{}, fmt.Errorf("decode message part: %w", err)
		}

		contentType, _, _ := h.ContentType()
		if strings.EqualFold(contentType, "text/plain") {
			plain = string(body)
			break
		}
		if firstPart == "" {
			firstPart = string(body)
		}
	}

	body := plain
	if body == "" {
		body = firstPart
	}
	return Message{Sender: sender, Body: body}, nil
}
