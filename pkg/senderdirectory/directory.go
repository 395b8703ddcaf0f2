package senderdirectory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ====================================================================================
// SenderDirectory loads the sender allow-list once at construction from a
// paginated key-value store and answers membership and bidirectional
// sender-id/mailbox-id lookups. The directory is immutable after load, so it
// is safe for concurrent reads; refreshing requires re-construction.
// ====================================================================================

// StoreEntry is one raw entry from the backing store.
type StoreEntry struct {
	// Name identifies the entry, used only for logging.
	Name string
	// Value is the entry's JSON document.
	Value []byte
}

// SenderStore is a paginated listing over the sender configuration entries.
type SenderStore interface {
	// ListPage returns one page of entries. An empty pageToken requests the
	// first page; a returned nextToken of "" means there are no more pages.
	ListPage(ctx context.Context, pageToken string) (entries []StoreEntry, nextToken string, err error)
}

// Record is the parsed shape of one sender configuration entry.
type Record struct {
	SenderID         string `json:"senderId"`
	MailboxID        string `json:"meshMailboxSenderId"`
	ReportsMailboxID string `json:"meshMailboxReportsId,omitempty"`
}

// Directory answers sender authorization and lookup queries.
type Directory struct {
	mailboxToSender map[string]string
	senderToMailbox map[string]string
	senderToReports map[string]string
	logger          zerolog.Logger
}

// New constructs a Directory by draining the store's pages. Entries missing
// either id are skipped; an entry with malformed JSON is logged and skipped
// rather than failing the whole load.
func New(ctx context.Context, store SenderStore, logger zerolog.Logger) (*Directory, error) {
	if store == nil {
		return nil, fmt.Errorf("sender store cannot be nil")
	}

	d := &Directory{
		mailboxToSender: make(map[string]string),
		senderToMailbox: make(map[string]string),
		senderToReports: make(map[string]string),
		logger:          logger.With().Str("component", "SenderDirectory").Logger(),
	}

	pageToken := ""
	for page := 0; pageToken != "" || page == 0; page++ {
		entries, nextToken, err := store.ListPage(ctx, pageToken)
		if err != nil {
			return nil, fmt.Errorf("failed to list sender page %d: %w", page, err)
		}
		for _, entry := range entries {
			d.addEntry(entry)
		}
		pageToken = nextToken
	}

	d.logger.Debug().Int("sender_count", len(d.mailboxToSender)).Msg("Loaded valid sender mailbox ids.")
	return d, nil
}

func (d *Directory) addEntry(entry StoreEntry) {
	var rec Record
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		d.logger.Warn().Err(err).Str("entry", entry.Name).Msg("Skipping sender entry with malformed JSON.")
		return
	}
	if rec.SenderID == "" || rec.MailboxID == "" {
		return
	}
	mailboxKey := strings.ToUpper(rec.MailboxID)
	senderKey := strings.ToUpper(rec.SenderID)
	d.mailboxToSender[mailboxKey] = rec.SenderID
	d.senderToMailbox[senderKey] = rec.MailboxID
	if rec.ReportsMailboxID != "" {
		d.senderToReports[senderKey] = rec.ReportsMailboxID
	}
}

// IsValidSender reports whether a mailbox id belongs to a known sender.
// Lookups are case-insensitive; an empty id is never valid.
func (d *Directory) IsValidSender(mailboxID string) bool {
	if mailboxID == "" {
		return false
	}
	_, ok := d.mailboxToSender[strings.ToUpper(mailboxID)]
	return ok
}

// SenderID returns the sender id for a mailbox id.
func (d *Directory) SenderID(mailboxID string) (string, bool) {
	if mailboxID == "" {
		return "", false
	}
	id, ok := d.mailboxToSender[strings.ToUpper(mailboxID)]
	return id, ok
}

// MailboxID returns the acknowledgment mailbox id for a sender id.
func (d *Directory) MailboxID(senderID string) (string, bool) {
	if senderID == "" {
		return "", false
	}
	id, ok := d.senderToMailbox[strings.ToUpper(senderID)]
	return id, ok
}

// ReportsMailboxID returns the reporting mailbox id for a sender id.
func (d *Directory) ReportsMailboxID(senderID string) (string, bool) {
	if senderID == "" {
		return "", false
	}
	id, ok := d.senderToReports[strings.ToUpper(senderID)]
	return id, ok
}
