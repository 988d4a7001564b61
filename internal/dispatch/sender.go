// Package dispatch mails calendar invites back to the original sender.
package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailcal/internal/event"
)

// Sender submits invite mails over SMTP with implicit TLS (SMTPS).
type Sender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSender creates an SMTP sender. from is the mailbox address the
// pipeline operates, used as both envelope and header sender.
func NewSender(host string, port int, username, password, from string) *Sender {
	return &Sender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

// SendInvite mails the calendar artifact to the original sender with a
// plain-text summary body and the artifact attached as invite.ics.
func (s *Sender) SendInvite(ctx context.Context, recipient string, rec event.Record, ics []byte) error {
	msg := s.composeMessage(recipient, rec, ics)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := s.sendSMTP(ctx, addr, recipient, msg); err != nil {
		return fmt.Errorf("SMTP send to %s: %w", recipient, err)
	}

	log.Printf("[Dispatch] Invite for %q sent to %s", rec.Name, recipient)
	return nil
}

// composeMessage builds the full multipart/mixed message: headers,
// text/plain summary, and the base64-encoded text/calendar attachment
// with method=REQUEST so clients offer a reply-scheduling action.
func (s *Sender) composeMessage(recipient string, rec event.Record, ics []byte) []byte {
	boundary := fmt.Sprintf("=_%s", uuid.New().String()[:16])

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", s.from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", recipient))
	buf.WriteString(fmt.Sprintf("Subject: Calendar Invite: %s\r\n", subjectName(rec)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@mailcal>\r\n", uuid.New().String()))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	buf.WriteString(summaryBody(rec))
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/calendar; method=REQUEST; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	buf.WriteString("Content-Disposition: attachment; filename=\"invite.ics\"\r\n\r\n")
	buf.WriteString(wrapBase64(ics))
	buf.WriteString("\r\n")
	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes()
}

func subjectName(rec event.Record) string {
	if rec.Name == "" {
		return "New Event"
	}
	return rec.Name
}

// summaryBody composes the plain-text invitation summary.
func summaryBody(rec event.Record) string {
	when := "Time not specified"
	if len(rec.Occurrences) > 0 {
		var parts []string
		for _, occ := range rec.Occurrences {
			parts = append(parts, fmt.Sprintf("%s (%d minutes)", occ.DateTime, int(occ.Duration().Minutes())))
		}
		when = strings.Join(parts, ", ")
	}

	where := rec.Location
	if where == "" {
		where = "Location not specified"
	}

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("You're invited to: %s\r\n\r\n", subjectName(rec)))
	buf.WriteString(fmt.Sprintf("When: %s\r\n", when))
	buf.WriteString(fmt.Sprintf("Where: %s\r\n", where))
	if len(rec.Participants) > 0 {
		buf.WriteString(fmt.Sprintf("Participants: %s\r\n", strings.Join(rec.Participants, ", ")))
	}
	buf.WriteString("\r\nThis is an automatically generated calendar invite.\r\n")
	return buf.String()
}

// wrapBase64 encodes the attachment at the 76-column MIME line limit.
func wrapBase64(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var buf bytes.Buffer
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	return buf.String()
}

// sendSMTP performs the raw SMTP transaction over an implicit-TLS
// connection (submission port 465).
func (s *Sender) sendSMTP(ctx context.Context, addr, to string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}

	tlsConn := tls.Client(conn, &tls.Config{ServerName: s.host})
	c, err := smtp.NewClient(tlsConn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP client: %w", err)
	}
	defer c.Close()

	if s.username != "" && s.password != "" {
		if err := c.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return fmt.Errorf("SMTP auth: %w", err)
		}
	}

	if err := c.Mail(s.from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return c.Quit()
}
