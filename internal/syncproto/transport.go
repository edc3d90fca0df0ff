package syncproto

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weftfs/weft/internal/wcrypto"
)

// Host wraps a libp2p host bound to a weft Ed25519 identity, grounded on
// orbas1-Synnergy/core/network.go's NewNode (libp2p.New + ListenAddrStrings).
type Host struct {
	libp2p host.Host
}

// NewHost derives a libp2p identity from sk and starts listening on addr
// (a multiaddr string, e.g. "/ip4/0.0.0.0/tcp/4001"; empty picks a random
// free port on all interfaces).
func NewHost(sk wcrypto.SecretKey, addr string) (*Host, error) {
	priv, err := libp2pcrypto.UnmarshalEd25519PrivateKey(sk.Bytes())
	if err != nil {
		return nil, fmt.Errorf("convert ed25519 key to libp2p identity: %w", err)
	}
	opts := []libp2p.Option{libp2p.Identity(priv)}
	if addr != "" {
		opts = append(opts, libp2p.ListenAddrStrings(addr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}
	return &Host{libp2p: h}, nil
}

// ID returns this host's libp2p peer ID.
func (h *Host) ID() peer.ID { return h.libp2p.ID() }

// Addrs returns the multiaddrs this host is reachable on.
func (h *Host) Addrs() []string {
	out := make([]string, 0, len(h.libp2p.Addrs()))
	for _, a := range h.libp2p.Addrs() {
		out = append(out, a.String())
	}
	return out
}

// Connect dials a peer given its full multiaddr (including /p2p/<id>).
func (h *Host) Connect(ctx context.Context, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("parse peer address %q: %w", addr, err)
	}
	if err := h.libp2p.Connect(ctx, *info); err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	return nil
}

// Close shuts the host down.
func (h *Host) Close() error { return h.libp2p.Close() }

// PeerIDForPublicKey derives the libp2p peer ID that corresponds to a weft
// Ed25519 identity, so manifest shares (keyed by wcrypto.PublicKey) can be
// addressed on the overlay without a separate directory lookup.
func PeerIDForPublicKey(pk wcrypto.PublicKey) (peer.ID, error) {
	pub, err := libp2pcrypto.UnmarshalEd25519PublicKey(pk.Bytes())
	if err != nil {
		return "", fmt.Errorf("convert ed25519 public key to libp2p identity: %w", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("derive peer id: %w", err)
	}
	return id, nil
}

// Raw exposes the underlying libp2p host for handler registration and
// stream dialing by the rest of the package.
func (h *Host) Raw() host.Host { return h.libp2p }
