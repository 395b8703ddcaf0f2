package processor_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mesh-relay/pkg/events"
	"github.com/illmade-knight/go-mesh-relay/pkg/mailbox"
	"github.com/illmade-knight/go-mesh-relay/pkg/queue"
	"github.com/illmade-knight/go-mesh-relay/pkg/statusstore"
)

// --- Event helpers ---

func newFactory(t *testing.T) *events.Factory {
	t.Helper()
	f, err := events.NewFactory(events.FactoryConfig{
		Environment: "development",
		Instance:    "primary",
		Channel:     "mailbox",
	})
	require.NoError(t, err)
	return f
}

func makeReceivedEnvelope(t *testing.T, meshMessageID, senderID, reference string) *events.Envelope {
	t.Helper()
	env, err := newFactory(t).NewReceived(events.ReceivedData{
		MeshMessageID:    meshMessageID,
		SenderID:         senderID,
		MessageReference: reference,
	})
	require.NoError(t, err)
	return env
}

func makeDownloadedEnvelope(t *testing.T, meshMessageID, senderID, reference, uri string) *events.Envelope {
	t.Helper()
	received := makeReceivedEnvelope(t, meshMessageID, senderID, reference)
	env, err := events.Derive(received, events.TypeInboxMessageDownloaded, events.SchemaInboxMessageDownloaded,
		events.DownloadedData{
			MeshMessageID:    meshMessageID,
			SenderID:         senderID,
			MessageReference: reference,
			MessageURI:       uri,
		}, events.ValidateDownloaded)
	require.NoError(t, err)
	return env
}

func makeReportGeneratedEnvelope(t *testing.T, senderID, reportURI string) *events.Envelope {
	t.Helper()
	received := makeReceivedEnvelope(t, "mesh-seed", senderID, "ref-seed")
	env, err := events.Derive(received, events.TypeReportGenerated, events.SchemaReportGenerated,
		events.ReportGeneratedData{
			SenderID:  senderID,
			ReportURI: reportURI,
		}, events.ValidateReportGenerated)
	require.NoError(t, err)
	return env
}

// makeRecord wraps an envelope in the queue wire shape.
func makeRecord(t *testing.T, messageID string, env *events.Envelope) queue.Record {
	t.Helper()
	detail, err := json.Marshal(env)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]json.RawMessage{"detail": detail})
	require.NoError(t, err)
	return queue.Record{
		MessageID:   messageID,
		EventSource: queue.EventSourcePubsub,
		Body:        string(body),
	}
}

func failureIDs(resp queue.Response) []string {
	ids := make([]string, 0, len(resp.BatchItemFailures))
	for _, f := range resp.BatchItemFailures {
		ids = append(ids, f.ItemIdentifier)
	}
	return ids
}

// --- Shared fakes ---

type fakeEventSender struct {
	sent    []*events.Envelope
	failAll bool
}

func (f *fakeEventSender) SendEvents(_ context.Context, envs []*events.Envelope, _ events.Validator) []*events.Envelope {
	f.sent = append(f.sent, envs...)
	if f.failAll {
		return envs
	}
	return nil
}

func (f *fakeEventSender) sentTypes() []string {
	types := make([]string, 0, len(f.sent))
	for _, e := range f.sent {
		types = append(types, e.Type)
	}
	return types
}

type fakeDeadLetter struct {
	batches   [][]queue.DeadLetterEntry
	err       error
	rejectAll bool
}

func (f *fakeDeadLetter) SendBatch(_ context.Context, entries []queue.DeadLetterEntry) ([]queue.DeadLetterEntry, error) {
	f.batches = append(f.batches, entries)
	if f.err != nil {
		return nil, f.err
	}
	if f.rejectAll {
		return entries, nil
	}
	return nil, nil
}

type spyMetric struct {
	records int
}

func (s *spyMetric) Record(context.Context, int64) { s.records++ }

type spyStatus struct {
	outcomes []statusstore.Outcome
}

func (s *spyStatus) Record(_ context.Context, o statusstore.Outcome) {
	s.outcomes = append(s.outcomes, o)
}

// --- Mailbox fakes ---

type fakeInboxMessage struct {
	id      string
	content []byte
	readErr error
	ackErr  error
	reads   int
	acks    int
}

func (m *fakeInboxMessage) ID() string              { return m.id }
func (m *fakeInboxMessage) SenderMailboxID() string { return "" }
func (m *fakeInboxMessage) LocalReference() string  { return "" }
func (m *fakeInboxMessage) WorkflowID() string      { return "" }
func (m *fakeInboxMessage) Subject() string         { return "" }
func (m *fakeInboxMessage) MessageType() string     { return "DATA" }

func (m *fakeInboxMessage) Read(context.Context) ([]byte, error) {
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.content, nil
}

func (m *fakeInboxMessage) Acknowledge(context.Context) error {
	m.acks++
	return m.ackErr
}

// fakeInboxClient serves retrieve-by-id from an in-memory inbox.
type fakeInboxClient struct {
	messages    map[string]*fakeInboxMessage
	retrieveErr error
}

func (f *fakeInboxClient) Handshake(context.Context) error { return nil }

func (f *fakeInboxClient) IterateInbox(context.Context) ([]mailbox.Message, error) {
	return nil, nil
}

func (f *fakeInboxClient) Retrieve(_ context.Context, messageID string) (mailbox.RetrieveResult, error) {
	if f.retrieveErr != nil {
		return mailbox.RetrieveResult{}, f.retrieveErr
	}
	msg, ok := f.messages[messageID]
	if !ok {
		return mailbox.RetrieveResult{Status: mailbox.NotFound}, nil
	}
	return mailbox.RetrieveResult{Status: mailbox.Found, Message: msg}, nil
}

func (f *fakeInboxClient) Send(context.Context, mailbox.SendRequest) (string, error) {
	return "", nil
}

// --- Directory fakes ---

type fakeResolver struct {
	mailboxes map[string]string // sender id -> ack mailbox id
	reports   map[string]string // sender id -> reports mailbox id
}

func (f *fakeResolver) MailboxID(senderID string) (string, bool) {
	id, ok := f.mailboxes[senderID]
	return id, ok
}

func (f *fakeResolver) ReportsMailboxID(senderID string) (string, bool) {
	id, ok := f.reports[senderID]
	return id, ok
}

// --- Store and notifier fakes ---

type storeCall struct {
	senderID  string
	reference string
	content   []byte
}

type fakeDocumentStore struct {
	calls    []storeCall
	storeErr error
}

func (f *fakeDocumentStore) Store(_ context.Context, senderID, messageReference string, content []byte) (string, error) {
	f.calls = append(f.calls, storeCall{senderID: senderID, reference: messageReference, content: content})
	if f.storeErr != nil {
		return "", f.storeErr
	}
	return fmt.Sprintf("gs://relay-documents/document-reference/%s_%s", senderID, messageReference), nil
}

type ackCall struct {
	mailboxID        string
	meshMessageID    string
	messageReference string
	senderID         string
}

type fakeAckSender struct {
	calls   []ackCall
	sendErr error
}

func (f *fakeAckSender) SendAcknowledgment(_ context.Context, mailboxID, meshMessageID, messageReference, senderID string) (string, error) {
	f.calls = append(f.calls, ackCall{
		mailboxID:        mailboxID,
		meshMessageID:    meshMessageID,
		messageReference: messageReference,
		senderID:         senderID,
	})
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "ack-msg-1", nil
}

type fakeReportDownloader struct {
	reports map[string][]byte
}

func (f *fakeReportDownloader) Download(_ context.Context, uri string) ([]byte, error) {
	content, ok := f.reports[uri]
	if !ok {
		return nil, fmt.Errorf("no report at %s", uri)
	}
	return content, nil
}

type reportCall struct {
	reportsMailboxID string
	report           []byte
	reportDate       string
	reportReference  string
}

type fakeReportSender struct {
	calls   []reportCall
	sendErr error
}

func (f *fakeReportSender) SendReport(_ context.Context, reportsMailboxID string, report []byte, reportDate, reportReference string) (string, error) {
	f.calls = append(f.calls, reportCall{
		reportsMailboxID: reportsMailboxID,
		report:           report,
		reportDate:       reportDate,
		reportReference:  reportReference,
	})
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "report-msg-1", nil
}
