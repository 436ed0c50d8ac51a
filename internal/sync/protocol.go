// Package sync implements ewig's bidirectional and cold-start replica
// sync, plus the anti-entropy peer bookkeeping layered on top of it.
package sync

import (
	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// MessageType enumerates the transport-neutral sync envelope.
type MessageType uint8

const (
	ListBranches MessageType = iota
	BranchList
	GetEventsSince
	Events
	GetMerkleTree
	MerkleTreeResponse
	GetHashes
	MissingHashes
	Ack
	ErrorMsg
)

// Message is the conceptual sync envelope. Exactly one payload field is
// populated per Type; transports (HTTP, gRPC, in-memory) marshal this
// however they like, carrying every payload shape in one envelope and
// switching on a Type tag.
type Message struct {
	Type MessageType

	BranchNames []string
	Since       wireformat.Hash
	EventList   []eventlog.Event
	MerkleRoot  wireformat.Hash
	MerkleLevel []wireformat.Hash
	Hashes      []wireformat.Hash
	AckSeq      uint64
	Error       string
}

// Transport is the caller-supplied round trip an Engine drives. It is
// deliberately narrow and transport-neutral: the engine only ever needs
// to ask a peer for its hash set, its Merkle tree, or a slice of events
// since some point, and to push its own deltas across.
type Transport interface {
	// RemoteEventsSince returns every remote event not reachable from
	// since's descendant frontier (an empty/zero since requests the
	// peer's full set).
	RemoteEventsSince(since wireformat.Hash) ([]eventlog.Event, error)
	// RemoteHashes returns every event hash the peer currently holds.
	RemoteHashes() ([]wireformat.Hash, error)
	// RemoteMerkleRoot returns the peer's current Merkle root over its
	// event hash set.
	RemoteMerkleRoot() (wireformat.Hash, error)
	// RemoteMerkleLeaves returns the peer's full sorted leaf set, used
	// once roots disagree. Merkle-diff mode otherwise walks levels
	// pairwise; an in-process or small-world transport can shortcut
	// straight to a leaf diff once it knows a difference exists.
	RemoteMerkleLeaves() ([]wireformat.Hash, error)
	// RemoteEventsByHash fetches specific events by hash (the
	// GetHashes/MissingHashes leg of the protocol envelope), used once
	// Merkle-diff mode has narrowed down exactly which leaves differ.
	RemoteEventsByHash(hashes []wireformat.Hash) ([]eventlog.Event, error)
	// PushEvents delivers locally-only events to the peer. Re-pushing an
	// event the peer already has is defined as a no-op.
	PushEvents(events []eventlog.Event) error
}
