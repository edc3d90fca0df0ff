package peer

import (
	"fmt"

	"github.com/weftfs/weft/internal/blobstore"
	"github.com/weftfs/weft/internal/bucketlog"
	"github.com/weftfs/weft/internal/scheduler"
	"github.com/weftfs/weft/internal/syncproto"
	"github.com/weftfs/weft/internal/wcrypto"
)

// Builder configures and constructs a Peer, mirroring the spec's
// "socket address optional, key optional, blob store and log provider
// required" contract.
type Builder struct {
	addr  string
	sk    *wcrypto.SecretKey
	blobs blobstore.BlobStore
	logs  bucketlog.LogProvider
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// WithAddr sets the listen multiaddr (e.g. "/ip4/0.0.0.0/tcp/4001"). If
// unset, the overlay host picks an ephemeral port on all interfaces.
func (b *Builder) WithAddr(addr string) *Builder {
	b.addr = addr
	return b
}

// WithSecretKey sets this peer's Ed25519 identity. If unset, Build
// generates a fresh one.
func (b *Builder) WithSecretKey(sk wcrypto.SecretKey) *Builder {
	b.sk = &sk
	return b
}

// WithBlobStore sets the required blob store.
func (b *Builder) WithBlobStore(blobs blobstore.BlobStore) *Builder {
	b.blobs = blobs
	return b
}

// WithLogProvider sets the required bucket log.
func (b *Builder) WithLogProvider(logs bucketlog.LogProvider) *Builder {
	b.logs = logs
	return b
}

// Build opens the overlay endpoint, registers the blobs/sync protocol
// handlers, and returns a Peer ready to Spawn.
func (b *Builder) Build() (*Peer, error) {
	if b.blobs == nil {
		return nil, fmt.Errorf("peer: blob store is required")
	}
	if b.logs == nil {
		return nil, fmt.Errorf("peer: log provider is required")
	}

	sk := b.sk
	if sk == nil {
		generated, err := wcrypto.GenerateSecretKey()
		if err != nil {
			return nil, fmt.Errorf("peer: generate identity: %w", err)
		}
		sk = &generated
	}

	host, err := syncproto.NewHost(*sk, b.addr)
	if err != nil {
		return nil, fmt.Errorf("peer: start overlay host: %w", err)
	}
	client := syncproto.NewClient(host)
	queue := scheduler.NewQueue(scheduler.DefaultQueueCapacity)
	worker := scheduler.NewWorker(queue, b.logs, b.blobs, client, sk.Public())

	syncproto.RegisterHandlers(host, b.logs, b.blobs, worker)

	return &Peer{
		host:   host,
		client: client,
		logs:   b.logs,
		blobs:  b.blobs,
		self:   *sk,
		queue:  queue,
		worker: worker,
	}, nil
}
