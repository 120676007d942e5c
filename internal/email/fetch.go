package email

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailcore/pkg/types"
)

// ParseFailedSubject is the subject placeholder for undecodable messages
const ParseFailedSubject = "(parse failed)"

// Criteria selects messages in the current mailbox. The zero value
// matches everything.
type Criteria struct {
	UnseenOnly bool
	Since      time.Time
}

func (cr Criteria) toIMAP() *imap.SearchCriteria {
	sc := imap.NewSearchCriteria()
	if cr.UnseenOnly {
		sc.WithoutFlags = []string{imap.SeenFlag}
	}
	if !cr.Since.IsZero() {
		sc.Since = cr.Since
	}
	return sc
}

// Attributes are the per-message metadata delivered alongside content
type Attributes struct {
	UID          uint32
	Flags        []string
	InternalDate time.Time
	Size         uint32
}

// HasFlag reports whether flag is set
func (a Attributes) HasFlag(flag string) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// FetchOptions controls FetchRange
type FetchOptions struct {
	// HeadersOnly fetches FROM, TO, SUBJECT and DATE instead of the full message
	HeadersOnly bool
	// Structure adds BODYSTRUCTURE
	Structure bool
}

// RawMessage is an unparsed fetch result
type RawMessage struct {
	Attributes
	Subject   string
	From      string
	To        []string
	Date      time.Time
	Body      []byte
	Structure *imap.BodyStructure
}

// ParsedMessage is a fully decoded message
type ParsedMessage struct {
	Attributes
	MessageID   string
	Subject     string
	From        string
	To          []string
	Cc          []string
	Date        time.Time
	Headers     map[string]string
	Text        string
	HTML        string
	Attachments []types.Attachment
	ParseFailed bool
	ParseError  string
}

// Search returns matching UIDs in ascending order
func (s *Session) Search(ctx context.Context, criteria Criteria) ([]uint32, error) {
	c, err := s.require("search", MailboxSelected)
	if err != nil {
		return nil, err
	}

	var uids []uint32
	err = s.run(ctx, "search", c, func() error {
		var err error
		uids, err = c.UidSearch(criteria.toIMAP())
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// FetchRange fetches messages without decoding bodies. A message is
// emitted once both its content and its attributes have arrived.
func (s *Session) FetchRange(ctx context.Context, uids []uint32, opts FetchOptions) ([]RawMessage, error) {
	c, err := s.require("fetch", MailboxSelected)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imap.BodySectionName{Peek: true}
	if opts.HeadersOnly {
		section.BodyPartName = imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    []string{"FROM", "TO", "SUBJECT", "DATE"},
		}
	}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, imap.FetchRFC822Size, section.FetchItem()}
	if opts.Structure {
		items = append(items, imap.FetchBodyStructure)
	}

	var (
		mu  sync.Mutex
		out []RawMessage
	)
	err = s.fetch(ctx, c, uids, items, func(msg *imap.Message) {
		b := newJoinBarrier(func(attrs Attributes, raw RawMessage) {
			raw.Attributes = attrs
			mu.Lock()
			out = append(out, raw)
			mu.Unlock()
		})

		raw := RawMessage{Structure: msg.BodyStructure}
		if lit := msg.GetBody(section); lit != nil {
			raw.Body, _ = io.ReadAll(lit)
		}
		fillEnvelope(&raw)
		b.setRight(raw)
		b.setLeft(attributesOf(msg))
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// FetchAndParse fetches and decodes full messages. Decoding runs off the
// connection's read loop; a message completes when both its decoded content
// and its attributes are in. A message that cannot be decoded yields a
// placeholder with ParseFailed set. The whole call is bounded by the fetch
// timeout and fails as a unit when it expires.
func (s *Session) FetchAndParse(ctx context.Context, uids []uint32) ([]ParsedMessage, error) {
	c, err := s.require("fetch", MailboxSelected)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, imap.FetchRFC822Size, section.FetchItem()}

	var (
		mu      sync.Mutex
		out     []ParsedMessage
		pending sync.WaitGroup
	)
	err = s.fetch(ctx, c, uids, items, func(msg *imap.Message) {
		pending.Add(1)
		b := newJoinBarrier(func(attrs Attributes, parsed ParsedMessage) {
			parsed.Attributes = attrs
			mu.Lock()
			out = append(out, parsed)
			mu.Unlock()
			pending.Done()
		})

		var raw []byte
		if lit := msg.GetBody(section); lit != nil {
			raw, _ = io.ReadAll(lit)
		}
		go func() { b.setRight(decode(raw)) }()
		b.setLeft(attributesOf(msg))
	})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.teardown()
		return nil, s.failure(ctx, "fetch", ctx.Err())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// fetch streams UID FETCH results to each, skipping untagged updates
// that carry no UID.
func (s *Session) fetch(ctx context.Context, c *client.Client, uids []uint32, items []imap.FetchItem, each func(*imap.Message)) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	return s.run(ctx, "fetch", c, func() error {
		messages := make(chan *imap.Message, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, items, messages)
		}()

		for msg := range messages {
			if msg.Uid == 0 {
				continue
			}
			each(msg)
		}
		return <-done
	})
}

func attributesOf(msg *imap.Message) Attributes {
	return Attributes{
		UID:          msg.Uid,
		Flags:        append([]string(nil), msg.Flags...),
		InternalDate: msg.InternalDate,
		Size:         msg.Size,
	}
}

// fillEnvelope reads the header block of raw.Body into the summary fields
func fillEnvelope(raw *RawMessage) {
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw.Body)))
	if err != nil {
		return
	}
	h := mail.Header{Header: message.Header{Header: th}}
	raw.Subject, _ = h.Subject()
	raw.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		raw.From = from[0].String()
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			raw.To = append(raw.To, a.Address)
		}
	}
}

// decode parses a full RFC 822 message. It never fails; undecodable input
// yields a placeholder.
func decode(raw []byte) (pm ParsedMessage) {
	defer func() {
		if r := recover(); r != nil {
			pm = placeholder(fmt.Errorf("decoder panic: %v", r))
		}
	}()

	if len(raw) == 0 {
		return placeholder(fmt.Errorf("empty message body"))
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return placeholder(err)
	}

	pm = ParsedMessage{
		MessageID: env.GetHeader("Message-Id"),
		Subject:   env.GetHeader("Subject"),
		From:      env.GetHeader("From"),
		Text:      env.Text,
		HTML:      env.HTML,
		Headers:   make(map[string]string),
	}
	if d, err := env.Date(); err == nil {
		pm.Date = d
	}
	if to, err := env.AddressList("To"); err == nil {
		for _, a := range to {
			pm.To = append(pm.To, a.Address)
		}
	}
	if cc, err := env.AddressList("Cc"); err == nil {
		for _, a := range cc {
			pm.Cc = append(pm.Cc, a.Address)
		}
	}
	for _, key := range env.GetHeaderKeys() {
		pm.Headers[key] = env.GetHeader(key)
	}
	for _, part := range env.Attachments {
		pm.Attachments = append(pm.Attachments, types.Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        len(part.Content),
		})
	}
	return pm
}

func placeholder(err error) ParsedMessage {
	return ParsedMessage{
		Subject:     ParseFailedSubject,
		ParseFailed: true,
		ParseError:  err.Error(),
	}
}
