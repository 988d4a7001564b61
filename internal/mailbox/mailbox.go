// Package mailbox reads meeting-request emails from an IMAP inbox.
package mailbox

import (
	"fmt"
	"log"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Message is one fetched email, reduced to what the pipeline needs.
type Message struct {
	// Sender is the address parsed from the From header.
	Sender string
	// Body is the first text/plain part of a multipart message, or the
	// single-part payload, decoded to text.
	Body string
}

// Client is one authenticated IMAP session. It is acquired for the
// duration of a batch run and released on every exit path.
type Client struct {
	c *imapclient.Client
}

// Dial connects over TLS and logs in. Any failure here is fatal for the
// run; no message has been processed yet.
func Dial(addr, username, password string) (*Client, error) {
	c, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("IMAP connect to %s: %w", addr, err)
	}
	if err := c.Login(username, password).Wait(); err != nil {
		c.Close()
		return nil, fmt.Errorf("IMAP login as %s: %w", username, err)
	}
	log.Printf("[Mailbox] Connected to %s as %s", addr, username)
	return &Client{c: c}, nil
}

// FetchMatching selects INBOX, searches for messages whose subject
// contains the filter (IMAP SEARCH is case-insensitive), and fetches
// each full message source in mailbox order.
func (m *Client) FetchMatching(subjectFilter string) ([]Message, error) {
	if _, err := m.c.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("select INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Subject", Value: subjectFilter},
		},
	}
	data, err := m.c.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("subject search %q: %w", subjectFilter, err)
	}

	seqNums := data.AllSeqNums()
	log.Printf("[Mailbox] Found %d matching message(s)", len(seqNums))

	var msgs []Message
	for _, num := range seqNums {
		raw, err := m.fetchSource(num)
		if err != nil {
			return nil, err
		}
		msg, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", num, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// fetchSource retrieves the full RFC822 source of one message.
func (m *Client) fetchSource(num uint32) ([]byte, error) {
	section := &imap.FetchItemBodySection{}
	cmd := m.c.Fetch(imap.SeqSetNum(num), &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{section},
	})
	bufs, err := cmd.Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", num, err)
	}
	if len(bufs) == 0 {
		return nil, fmt.Errorf("fetch message %d: no data returned", num)
	}
	return bufs[0].FindBodySection(section), nil
}

// Close logs out and releases the session.
func (m *Client) Close() error {
	if err := m.c.Logout().Wait(); err != nil {
		return fmt.Errorf("IMAP logout: %w", err)
	}
	return nil
}
