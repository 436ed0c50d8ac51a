package ewig

import "github.com/swarmguard/ewig/internal/reconstruct"

// CASBackendKind selects which cas.Backend implementation New wires up.
type CASBackendKind int

const (
	// CASMemory keeps objects in memory only; suited to tests and
	// ephemeral worlds.
	CASMemory CASBackendKind = iota
	// CASFile stores objects in a single data.bin/index.bin pair under
	// Options.DataDir.
	CASFile
	// CASBadger stores objects in a BadgerDB rooted at Options.DataDir,
	// for deployments already running Badger for other storage.
	CASBadger
)

// Options configures a new Engine. Construct with functional options
// rather than a struct literal: explicit constructors over a
// config-framework dependency.
type Options struct {
	DataDir           string
	CASBackend        CASBackendKind
	SnapshotCacheSize int
	ApplyFunc         reconstruct.ApplyFunc
	EnableTelemetry   bool
	RetryAttempts     int
}

// Option mutates an in-progress Options value.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		CASBackend:        CASMemory,
		SnapshotCacheSize: 256,
		RetryAttempts:     3,
	}
}

// WithDataDir points the event log and any file-backed CAS at dir. An
// empty dir (the default) keeps everything in memory.
func WithDataDir(dir string) Option {
	return func(o *Options) { o.DataDir = dir }
}

// WithCASBackend selects the CAS storage implementation.
func WithCASBackend(kind CASBackendKind) Option {
	return func(o *Options) { o.CASBackend = kind }
}

// WithSnapshotCacheSize bounds the reconstructor's LRU snapshot cache.
func WithSnapshotCacheSize(n int) Option {
	return func(o *Options) { o.SnapshotCacheSize = n }
}

// WithApplyFunc supplies the integration layer's deterministic
// state-transition function used by Reconstruct. Required before
// calling Reconstruct; without it Append records the event hash as the
// timeline entry's state hash. Merge does not use it.
func WithApplyFunc(fn reconstruct.ApplyFunc) Option {
	return func(o *Options) { o.ApplyFunc = fn }
}

// WithTelemetry enables the OTLP metrics/trace exporters; disabled by
// default so an embedding host never dials a collector unasked.
func WithTelemetry(enable bool) Option {
	return func(o *Options) { o.EnableTelemetry = enable }
}

// WithRetryAttempts sets Options.RetryAttempts (default 3). New does
// not pass the value to the sync engine, which always makes 3 attempts
// per peer round trip.
func WithRetryAttempts(n int) Option {
	return func(o *Options) { o.RetryAttempts = n }
}
