// Package bus defines the peer actor-bus contract used by every proxied
// strategy (C4/C6/C8/C9) to exchange envelopes with a peer service, plus
// an in-memory fake for tests. The real bus (the message-passing runtime
// that routes between a local client and a local service process) is an
// external collaborator per the specification this module implements;
// only its contract is modeled here.
package bus

import "context"

// Envelope is the outer request frame exchanged with a peer service, per
// the MetaStoreRequest/MetaStoreResponse wire shapes.
type Envelope struct {
	RequestId   string
	RequestMsg  []byte
	AsyncBackup bool
}

// Reply is the outer response frame.
type Reply struct {
	ResponseId  string
	Status      int32
	ErrorMsg    string
	ResponseMsg []byte
}

// ObserveCancelRequest cancels a previously created election/watch
// observer identified by id.
type ObserveCancelRequest struct {
	CancelObserveId uint64
}

// ObserveEvent is a single delivered observe reply, carrying the
// isCreate/isCancel flags the proxied election/watch strategies branch
// on.
type ObserveEvent struct {
	IsCreate   bool
	IsCancel   bool
	ObserveId  uint64
	Name       []byte
	CancelMsg  string
	Payload    []byte
}

// Bus is the contract every proxied strategy sends requests over and
// receives replies/observe events from.
type Bus interface {
	// Send delivers one envelope to the peer addressed by target under
	// methodName. Implementations should be safe to call from any
	// goroutine; this module's retry helper handles resends.
	Send(ctx context.Context, target, methodName string, env Envelope) error
	// Replies returns a channel of replies correlated by RequestId.
	Replies() <-chan Reply
	// Observe subscribes to streamed observe events for a given logical
	// subscription (watch or election observe).
	Observe(ctx context.Context, target, methodName string, payload []byte) (<-chan ObserveEvent, error)
	// Cancel sends an ObserveCancelRequest for a live subscription.
	Cancel(ctx context.Context, target string, req ObserveCancelRequest) error
	// Address returns the currently configured peer address.
	Address() string
	// OnAddressUpdated is invoked by the strategy manager when the proxy
	// peer address changes.
	OnAddressUpdated(addr string)
}
