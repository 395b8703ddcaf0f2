package mailbox

import (
	"context"
	"errors"
)

// ====================================================================================
// This package specifies the mailbox-network capability the relay consumes:
// handshake, inbox iteration, retrieve-by-id, read, acknowledge and send. The
// wire protocol itself (store-and-forward handshake, compression, mutual TLS)
// lives behind these interfaces and is not reproduced here.
// ====================================================================================

// ErrNotFound reports that a requested message is no longer in the inbox.
var ErrNotFound = errors.New("mailbox message not found")

// Message is a fixed-shape handle to a message sitting in the network inbox.
// Fields absent upstream are exposed as empty strings. A processor borrows a
// Message for one unit of work and must not retain it afterward.
type Message interface {
	// ID returns the mailbox-network message id.
	ID() string
	// SenderMailboxID returns the network-level address of the sending mailbox.
	SenderMailboxID() string
	// LocalReference returns the sender-assigned local id, or "".
	LocalReference() string
	// WorkflowID returns the workflow the message was sent under, or "".
	WorkflowID() string
	// Subject returns the message subject, or "".
	Subject() string
	// MessageType returns the network message type (e.g. DATA, REPORT), or "".
	MessageType() string
	// Read returns the full message body.
	Read(ctx context.Context) ([]byte, error)
	// Acknowledge removes the message from the inbox, network-wide.
	Acknowledge(ctx context.Context) error
}

// RetrieveStatus tags the outcome of a retrieve-by-id call.
type RetrieveStatus int

const (
	// Found means the message was present and is carried on the result.
	Found RetrieveStatus = iota
	// NotFound means the message is no longer in the inbox. Callers must
	// handle this explicitly; it is not folded into the error channel.
	NotFound
)

// RetrieveResult is the tagged outcome of InboxClient.Retrieve.
type RetrieveResult struct {
	Status  RetrieveStatus
	Message Message
}

// SendRequest describes an outbound mailbox message.
type SendRequest struct {
	MailboxID  string
	Body       []byte
	WorkflowID string
	LocalID    string
	Subject    string
}

// InboxClient is the consumed mailbox-network capability.
type InboxClient interface {
	// Handshake authenticates the client's own mailbox. Called once at
	// pipeline construction.
	Handshake(ctx context.Context) error
	// IterateInbox returns a snapshot of the messages currently visible in
	// the inbox. An empty slice means the inbox is drained.
	IterateInbox(ctx context.Context) ([]Message, error)
	// Retrieve fetches a message by its mailbox-network id.
	Retrieve(ctx context.Context, messageID string) (RetrieveResult, error)
	// Send delivers a message to a recipient mailbox and returns the
	// network-assigned message id.
	Send(ctx context.Context, req SendRequest) (string, error)
}
