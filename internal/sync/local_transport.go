package sync

import (
	"github.com/swarmguard/ewig/internal/cas"
	"github.com/swarmguard/ewig/internal/eventlog"
	"github.com/swarmguard/ewig/internal/wireformat"
)

// LogTransport adapts a peer's *eventlog.Log directly into a Transport,
// for same-process replication (two worlds in one engine) or tests. A
// networked transport (HTTP/gRPC) would marshal the same Message
// envelope from protocol.go instead.
type LogTransport struct {
	Peer *eventlog.Log
}

// RemoteEventsSince returns every event in the peer log; since is
// ignored, so a non-zero since also yields the full set.
func (t LogTransport) RemoteEventsSince(since wireformat.Hash) ([]eventlog.Event, error) {
	var out []eventlog.Event
	t.Peer.Iterate(func(ev eventlog.Event) bool {
		out = append(out, ev)
		return true
	})
	return out, nil
}

func (t LogTransport) RemoteHashes() ([]wireformat.Hash, error) {
	var out []wireformat.Hash
	t.Peer.Iterate(func(ev eventlog.Event) bool {
		out = append(out, ev.Hash)
		return true
	})
	return out, nil
}

func (t LogTransport) RemoteMerkleRoot() (wireformat.Hash, error) {
	hashes, _ := t.RemoteHashes()
	return cas.NewTree(hashes).Root(), nil
}

func (t LogTransport) RemoteMerkleLeaves() ([]wireformat.Hash, error) {
	return t.RemoteHashes()
}

func (t LogTransport) RemoteEventsByHash(hashes []wireformat.Hash) ([]eventlog.Event, error) {
	out := make([]eventlog.Event, 0, len(hashes))
	for _, h := range hashes {
		ev, err := t.Peer.GetByHash(h)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (t LogTransport) PushEvents(events []eventlog.Event) error {
	for _, ev := range events {
		if _, err := t.Peer.Import(ev); err != nil {
			return err
		}
	}
	return nil
}
