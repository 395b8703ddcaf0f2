package processor_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mesh-relay/pkg/events"
	"github.com/illmade-knight/go-mesh-relay/pkg/processor"
	"github.com/illmade-knight/go-mesh-relay/pkg/queue"
)

func newDownloadProcessor(t *testing.T, client *fakeInboxClient, store *fakeDocumentStore, sender *fakeEventSender, metric *spyMetric) *processor.DownloadProcessor {
	t.Helper()
	p, err := processor.NewDownloadProcessor(context.Background(), processor.DownloadConfig{},
		client, store, sender, nil, metric, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestDownload_HappyPath(t *testing.T) {
	msg := &fakeInboxMessage{id: "mesh-1", content: []byte("letter body")}
	client := &fakeInboxClient{messages: map[string]*fakeInboxMessage{"mesh-1": msg}}
	store := &fakeDocumentStore{}
	sender := &fakeEventSender{}
	metric := &spyMetric{}
	p := newDownloadProcessor(t, client, store, sender, metric)

	rec := makeRecord(t, "q-1", makeReceivedEnvelope(t, "mesh-1", "sender-1", "ref-1"))
	resp := p.ProcessBatch(context.Background(), queue.Event{Records: []queue.Record{rec}})

	assert.Empty(t, resp.BatchItemFailures)
	require.Len(t, store.calls, 1)
	assert.Equal(t, "sender-1", store.calls[0].senderID)
	assert.Equal(t, "ref-1", store.calls[0].reference)
	assert.Equal(t, []byte("letter body"), store.calls[0].content)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, events.TypeInboxMessageDownloaded, sender.sent[0].Type)
	var data events.DownloadedData
	require.NoError(t, json.Unmarshal(sender.sent[0].Data, &data))
	assert.Equal(t, "gs://relay-documents/document-reference/sender-1_ref-1", data.MessageURI)
	assert.Equal(t, "mesh-1", data.MeshMessageID)

	assert.Equal(t, 1, msg.acks)
	assert.Equal(t, 1, metric.records)
}

func TestDownload_PublishFailureBlocksAcknowledgment(t *testing.T) {
	msg := &fakeInboxMessage{id: "mesh-1", content: []byte("letter body")}
	client := &fakeInboxClient{messages: map[string]*fakeInboxMessage{"mesh-1": msg}}
	sender := &fakeEventSender{failAll: true}
	p := newDownloadProcessor(t, client, &fakeDocumentStore{}, sender, &spyMetric{})

	rec := makeRecord(t, "q-1", makeReceivedEnvelope(t, "mesh-1", "sender-1", "ref-1"))
	resp := p.ProcessBatch(context.Background(), queue.Event{Records: []queue.Record{rec}})

	assert.Equal(t, []string{"q-1"}, failureIDs(resp))
	assert.Equal(t, 0, msg.acks, "a message is never acknowledged before its downloaded event is published")
}

func TestDownload_MessageNotFoundFailsItem(t *testing.T) {
	client := &fakeInboxClient{messages: map[string]*fakeInboxMessage{}}
	store := &fakeDocumentStore{}
	p := newDownloadProcessor(t, client, store, &fakeEventSender{}, &spyMetric{})

	rec := makeRecord(t, "q-1", makeReceivedEnvelope(t, "mesh-gone", "sender-1", "ref-1"))
	resp := p.ProcessBatch(context.Background(), queue.Event{Records: []queue.Record{rec}})

	assert.Equal(t, []string{"q-1"}, failureIDs(resp))
	assert.Empty(t, store.calls)
}

func TestDownload_PartialBatchFailure(t *testing.T) {
	msg1 := &fakeInboxMessage{id: "mesh-1", content: []byte("a")}
	msg3 := &fakeInboxMessage{id: "mesh-3", content: []byte("c")}
	client := &fakeInboxClient{messages: map[string]*fakeInboxMessage{
		"mesh-1": msg1,
		"mesh-3": msg3,
	}}
	store := &fakeDocumentStore{}
	sender := &fakeEventSender{}
	p := newDownloadProcessor(t, client, store, sender, &spyMetric{})

	resp := p.ProcessBatch(context.Background(), queue.Event{Records: []queue.Record{
		makeRecord(t, "q-1", makeReceivedEnvelope(t, "mesh-1", "sender-1", "ref-1")),
		makeRecord(t, "q-2", makeReceivedEnvelope(t, "mesh-2", "sender-1", "ref-2")),
		makeRecord(t, "q-3", makeReceivedEnvelope(t, "mesh-3", "sender-1", "ref-3")),
	}})

	assert.Equal(t, []string{"q-2"}, failureIDs(resp), "only the missing message fails; the rest are not redelivered")
	assert.Len(t, store.calls, 2)
	assert.Len(t, sender.sent, 2)
	assert.Equal(t, 1, msg1.acks)
	assert.Equal(t, 1, msg3.acks)
}

func TestDownload_SkipsForeignEventSource(t *testing.T) {
	client := &fakeInboxClient{messages: map[string]*fakeInboxMessage{}}
	store := &fakeDocumentStore{}
	p := newDownloadProcessor(t, client, store, &fakeEventSender{}, &spyMetric{})

	rec := makeRecord(t, "q-1", makeReceivedEnvelope(t, "mesh-1", "sender-1", "ref-1"))
	rec.EventSource = "aws:sqs"
	resp := p.ProcessBatch(context.Background(), queue.Event{Records: []queue.Record{rec}})

	assert.Empty(t, resp.BatchItemFailures, "foreign records are skipped, not failed")
	assert.Empty(t, store.calls)
}

func TestDownload_InvalidEventFailsItem(t *testing.T) {
	client := &fakeInboxClient{messages: map[string]*fakeInboxMessage{}}
	p := newDownloadProcessor(t, client, &fakeDocumentStore{}, &fakeEventSender{}, &spyMetric{})

	env := makeReceivedEnvelope(t, "mesh-1", "sender-1", "ref-1")
	env.Data = json.RawMessage(`{"meshMessageId":"mesh-1"}`)
	rec := makeRecord(t, "q-1", env)
	resp := p.ProcessBatch(context.Background(), queue.Event{Records: []queue.Record{rec}})

	assert.Equal(t, []string{"q-1"}, failureIDs(resp))
}

func TestDownload_StoreFailureBlocksEverything(t *testing.T) {
	msg := &fakeInboxMessage{id: "mesh-1", content: []byte("letter body")}
	client := &fakeInboxClient{messages: map[string]*fakeInboxMessage{"mesh-1": msg}}
	store := &fakeDocumentStore{storeErr: errors.New("bucket unavailable")}
	sender := &fakeEventSender{}
	p := newDownloadProcessor(t, client, store, sender, &spyMetric{})

	rec := makeRecord(t, "q-1", makeReceivedEnvelope(t, "mesh-1", "sender-1", "ref-1"))
	resp := p.ProcessBatch(context.Background(), queue.Event{Records: []queue.Record{rec}})

	assert.Equal(t, []string{"q-1"}, failureIDs(resp))
	assert.Empty(t, sender.sent)
	assert.Equal(t, 0, msg.acks)
}

func TestDownload_StatusRecorded(t *testing.T) {
	msg := &fakeInboxMessage{id: "mesh-1", content: []byte("a")}
	client := &fakeInboxClient{messages: map[string]*fakeInboxMessage{"mesh-1": msg}}
	status := &spyStatus{}
	p, err := processor.NewDownloadProcessor(context.Background(), processor.DownloadConfig{},
		client, &fakeDocumentStore{}, &fakeEventSender{}, status, &spyMetric{}, zerolog.Nop())
	require.NoError(t, err)

	resp := p.ProcessBatch(context.Background(), queue.Event{Records: []queue.Record{
		makeRecord(t, "q-1", makeReceivedEnvelope(t, "mesh-1", "sender-1", "ref-1")),
		makeRecord(t, "q-2", makeReceivedEnvelope(t, "mesh-2", "sender-1", "ref-2")),
	}})

	assert.Equal(t, []string{"q-2"}, failureIDs(resp))
	require.Len(t, status.outcomes, 2)
	assert.Equal(t, "processed", status.outcomes[0].Status)
	assert.Equal(t, "failed", status.outcomes[1].Status)
	assert.Equal(t, "download", status.outcomes[0].Pipeline)
}
