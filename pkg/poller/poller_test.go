package poller_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mesh-relay/pkg/events"
	"github.com/illmade-knight/go-mesh-relay/pkg/mailbox"
	"github.com/illmade-knight/go-mesh-relay/pkg/poller"
)

type fakeMessage struct {
	id              string
	senderMailboxID string
	localReference  string
	acks            int
	ackErr          error
}

func (m *fakeMessage) ID() string              { return m.id }
func (m *fakeMessage) SenderMailboxID() string { return m.senderMailboxID }
func (m *fakeMessage) LocalReference() string  { return m.localReference }
func (m *fakeMessage) WorkflowID() string      { return "CUSTOMER_WORKFLOW" }
func (m *fakeMessage) Subject() string         { return "" }
func (m *fakeMessage) MessageType() string     { return "DATA" }
func (m *fakeMessage) Read(context.Context) ([]byte, error) {
	return []byte("body"), nil
}
func (m *fakeMessage) Acknowledge(context.Context) error {
	m.acks++
	return m.ackErr
}

// fakeClient serves inbox pages in order, then an empty inbox forever.
type fakeClient struct {
	pages    [][]mailbox.Message
	iterates int
}

func (f *fakeClient) Handshake(context.Context) error { return nil }

func (f *fakeClient) IterateInbox(context.Context) ([]mailbox.Message, error) {
	if f.iterates >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.iterates]
	f.iterates++
	return page, nil
}

func (f *fakeClient) Retrieve(context.Context, string) (mailbox.RetrieveResult, error) {
	return mailbox.RetrieveResult{Status: mailbox.NotFound}, nil
}

func (f *fakeClient) Send(context.Context, mailbox.SendRequest) (string, error) {
	return "", nil
}

type fakeDirectory struct {
	senders map[string]string // mailbox id -> sender id
}

func (f *fakeDirectory) IsValidSender(mailboxID string) bool {
	_, ok := f.senders[mailboxID]
	return ok
}

func (f *fakeDirectory) SenderID(mailboxID string) (string, bool) {
	id, ok := f.senders[mailboxID]
	return id, ok
}

type fakeEventSender struct {
	sent []*events.Envelope
	// failAll makes every send report its envelopes undeliverable.
	failAll bool
}

func (f *fakeEventSender) SendEvents(_ context.Context, envs []*events.Envelope, _ events.Validator) []*events.Envelope {
	f.sent = append(f.sent, envs...)
	if f.failAll {
		return envs
	}
	return nil
}

type spyMetric struct {
	records int
}

func (s *spyMetric) Record(context.Context, int64) { s.records++ }

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

func generousBudget() time.Duration { return time.Hour }

func newPoller(t *testing.T, cfg poller.Config, client mailbox.InboxClient, dir poller.SenderAuthorizer, sender poller.EventSender, metric *spyMetric) *poller.Poller {
	t.Helper()
	p, err := poller.New(context.Background(), cfg, client, dir, sender, newFactory(t), metric, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestRun_PublishesKnownSenderWithoutAcknowledging(t *testing.T) {
	msg := &fakeMessage{id: "mesh-1", senderMailboxID: "MB-A", localReference: "ref-1"}
	client := &fakeClient{pages: [][]mailbox.Message{{msg}}}
	sender := &fakeEventSender{}
	metric := &spyMetric{}
	p := newPoller(t, poller.Config{}, client, &fakeDirectory{senders: map[string]string{"MB-A": "sender-a"}}, sender, metric)

	require.NoError(t, p.Run(context.Background(), generousBudget))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, events.TypeInboxMessageReceived, sender.sent[0].Type)
	assert.Equal(t, 0, msg.acks, "data messages are acknowledged by the download stage, never here")
	assert.Equal(t, 1, metric.records)
}

func TestRun_UnknownSenderIsAcknowledgedAndDropped(t *testing.T) {
	msg := &fakeMessage{id: "mesh-1", senderMailboxID: "MB-UNKNOWN", localReference: "ref-1"}
	client := &fakeClient{pages: [][]mailbox.Message{{msg}}}
	sender := &fakeEventSender{}
	p := newPoller(t, poller.Config{}, client, &fakeDirectory{senders: map[string]string{"MB-A": "sender-a"}}, sender, &spyMetric{})

	require.NoError(t, p.Run(context.Background(), generousBudget))

	assert.Empty(t, sender.sent, "no event for an unauthorized sender")
	assert.Equal(t, 1, msg.acks)
}

func TestRun_EmptyReferenceAcceptVariant(t *testing.T) {
	msg := &fakeMessage{id: "mesh-1", senderMailboxID: "MB-A", localReference: "   "}
	client := &fakeClient{pages: [][]mailbox.Message{{msg}}}
	sender := &fakeEventSender{}
	p := newPoller(t, poller.Config{RejectEmptyReference: false}, client,
		&fakeDirectory{senders: map[string]string{"MB-A": "sender-a"}}, sender, &spyMetric{})

	require.NoError(t, p.Run(context.Background(), generousBudget))

	assert.Len(t, sender.sent, 1, "accept variant still announces the message")
	assert.Equal(t, 1, msg.acks, "and acknowledges it, since nothing downstream will")
}

func TestRun_EmptyReferenceRejectVariant(t *testing.T) {
	msg := &fakeMessage{id: "mesh-1", senderMailboxID: "MB-A", localReference: ""}
	client := &fakeClient{pages: [][]mailbox.Message{{msg}}}
	sender := &fakeEventSender{}
	p := newPoller(t, poller.Config{RejectEmptyReference: true}, client,
		&fakeDirectory{senders: map[string]string{"MB-A": "sender-a"}}, sender, &spyMetric{})

	require.NoError(t, p.Run(context.Background(), generousBudget))

	assert.Empty(t, sender.sent)
	assert.Equal(t, 1, msg.acks)
}

func TestRun_ExhaustedBudgetStopsEarly(t *testing.T) {
	msgs := []mailbox.Message{
		&fakeMessage{id: "mesh-1", senderMailboxID: "MB-A", localReference: "ref-1"},
		&fakeMessage{id: "mesh-2", senderMailboxID: "MB-A", localReference: "ref-2"},
	}
	client := &fakeClient{pages: [][]mailbox.Message{msgs}}
	sender := &fakeEventSender{}
	metric := &spyMetric{}
	p := newPoller(t, poller.Config{MinimumRemaining: time.Minute}, client,
		&fakeDirectory{senders: map[string]string{"MB-A": "sender-a"}}, sender, metric)

	require.NoError(t, p.Run(context.Background(), func() time.Duration { return 0 }))

	assert.Empty(t, sender.sent, "no message should start with the budget exhausted")
	assert.Equal(t, 1, metric.records, "the poll-cycle metric is recorded exactly once per run")
}

func TestRun_PublishFailureDoesNotAbortTheRun(t *testing.T) {
	msgs := []mailbox.Message{
		&fakeMessage{id: "mesh-1", senderMailboxID: "MB-A", localReference: "ref-1"},
		&fakeMessage{id: "mesh-2", senderMailboxID: "MB-A", localReference: "ref-2"},
	}
	client := &fakeClient{pages: [][]mailbox.Message{msgs}}
	sender := &fakeEventSender{failAll: true}
	p := newPoller(t, poller.Config{}, client,
		&fakeDirectory{senders: map[string]string{"MB-A": "sender-a"}}, sender, &spyMetric{})

	require.NoError(t, p.Run(context.Background(), generousBudget))

	assert.Len(t, sender.sent, 2, "every message is still attempted")
}

func TestRun_DrainsSuccessivePages(t *testing.T) {
	client := &fakeClient{pages: [][]mailbox.Message{
		{&fakeMessage{id: "mesh-1", senderMailboxID: "MB-A", localReference: "ref-1"}},
		{&fakeMessage{id: "mesh-2", senderMailboxID: "MB-A", localReference: "ref-2"}},
	}}
	sender := &fakeEventSender{}
	p := newPoller(t, poller.Config{}, client,
		&fakeDirectory{senders: map[string]string{"MB-A": "sender-a"}}, sender, &spyMetric{})

	require.NoError(t, p.Run(context.Background(), generousBudget))

	assert.Len(t, sender.sent, 2)
	assert.Equal(t, 2, client.iterates, "polling repeats until the inbox reports empty")
}
