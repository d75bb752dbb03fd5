package domain

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// PeerMaster is an authoritative server from which a peer's zones are transferred.
// TSIG holds the key name only; secrets are never handled here.
type PeerMaster struct {
	IP   netip.Addr
	TSIG string

	// Text is the address as the descriptor spelled it. Empty when the master
	// was built from an address value.
	Text string
}

// NewPeerMaster constructs a PeerMaster and validates its fields.
func NewPeerMaster(ip netip.Addr, tsig string) (PeerMaster, error) {
	m := PeerMaster{IP: ip, TSIG: strings.TrimSpace(tsig)}
	if err := m.Validate(); err != nil {
		return PeerMaster{}, err
	}
	return m, nil
}

// Address returns the address for configuration output: the descriptor's own
// spelling when known, the canonical form otherwise.
func (m PeerMaster) Address() string {
	if m.Text != "" {
		return m.Text
	}
	return m.IP.String()
}

// Validate checks the PeerMaster for a usable address and key name.
func (m PeerMaster) Validate() error {
	if !m.IP.IsValid() {
		return fmt.Errorf("master address must be set")
	}
	if m.IP.Zone() != "" {
		return fmt.Errorf("master address %s must not carry a zone", m.IP)
	}
	if m.TSIG == "" {
		return fmt.Errorf("master tsig key name must not be empty")
	}
	return nil
}

// Peer is one external organization's delegation: the masters to transfer from and
// the zones they serve. ID is opaque and may be hierarchical ("source/name") when a
// single fetch expands into several peers.
//
// Notes:
//   - Zones are normalized with NormalizeZoneName (no trailing dot, case preserved).
//   - Construct through NewPeer; the slices are owned by the Peer.
type Peer struct {
	ID      string
	Masters []PeerMaster
	Zones   []string
}

// NewPeer constructs a Peer, copying masters and zones so later changes by the
// caller do not leak into the value.
func NewPeer(id string, masters []PeerMaster, zones []string) (Peer, error) {
	p := Peer{
		ID:      strings.TrimSpace(id),
		Masters: slices.Clone(masters),
		Zones:   make([]string, 0, len(zones)),
	}
	for _, z := range zones {
		p.Zones = append(p.Zones, NormalizeZoneName(z))
	}
	if p.Masters == nil {
		p.Masters = []PeerMaster{}
	}
	if err := p.Validate(); err != nil {
		return Peer{}, err
	}
	return p, nil
}

// Validate checks that the Peer has an id, valid masters and non-empty zone names.
func (p Peer) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("peer id must not be empty")
	}
	for i, m := range p.Masters {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("peer %s master %d: %w", p.ID, i, err)
		}
	}
	for i, z := range p.Zones {
		if z == "" {
			return fmt.Errorf("peer %s zone %d: name must not be empty", p.ID, i)
		}
	}
	return nil
}

// Equal reports whether two peers carry the same id, masters and zones in the same order.
func (p Peer) Equal(other Peer) bool {
	return p.ID == other.ID &&
		slices.Equal(p.Masters, other.Masters) &&
		slices.Equal(p.Zones, other.Zones)
}

// RemoteID returns the synthetic identifier of the n-th master (1-based) of the peer.
func (p Peer) RemoteID(n int) string {
	return fmt.Sprintf("%s/%d", p.ID, n)
}

// NormalizeZoneName strips a single trailing root-label dot. Case is preserved.
func NormalizeZoneName(name string) string {
	name = strings.TrimSpace(name)
	return strings.TrimSuffix(name, ".")
}

// ZoneFileName derives the zone file name for a zone: lower-cased, with '/'
// (RFC 2317 classless delegations) replaced by '-'.
func ZoneFileName(zone string) string {
	return strings.ReplaceAll(strings.ToLower(zone), "/", "-")
}
