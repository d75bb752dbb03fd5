// Package registry accumulates the peers produced in one run and enforces that
// every zone has exactly one owning peer.
package registry

import (
	logpkg "github.com/haukened/dper/internal/dper/common/log"
	"github.com/haukened/dper/internal/dper/domain"
)

// Registry holds peers in insertion order. It lives for a single run.
type Registry struct {
	peers  []domain.Peer
	logger logpkg.Logger
}

// New returns an empty Registry.
func New(logger logpkg.Logger) *Registry {
	if logger == nil {
		logger = logpkg.NewNoopLogger()
	}
	return &Registry{logger: logger}
}

// Add appends peers, preserving order.
func (r *Registry) Add(peers ...domain.Peer) {
	r.peers = append(r.peers, peers...)
}

// Peers returns the accumulated peers in insertion order.
func (r *Registry) Peers() []domain.Peer {
	out := make([]domain.Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

// Len reports how many peers have been added.
func (r *Registry) Len() int {
	return len(r.peers)
}

// Zones counts zone entries across all peers.
func (r *Registry) Zones() int {
	n := 0
	for _, p := range r.peers {
		n += len(p.Zones)
	}
	return n
}

// Check verifies zone ownership over the accumulated peers.
func (r *Registry) Check() error {
	return Check(r.peers, r.logger)
}

// Check scans peers in order. The first peer to list a zone owns it; any later
// peer listing the same zone is a conflict. Every conflict is logged and the scan
// continues, so a single *domain.DuplicateZoneError reports all of them.
// A peer listing the same zone more than once is not a conflict.
func Check(peers []domain.Peer, logger logpkg.Logger) error {
	if logger == nil {
		logger = logpkg.NewNoopLogger()
	}

	owners := make(map[string]string)
	var conflicts []domain.ZoneConflict
	for _, p := range peers {
		for _, zone := range p.Zones {
			owner, seen := owners[zone]
			if !seen {
				owners[zone] = p.ID
				continue
			}
			if owner == p.ID {
				continue
			}
			c := domain.ZoneConflict{Zone: zone, Owner: owner, Claimant: p.ID}
			logger.Error(map[string]any{"zone": zone, "owner": owner, "claimant": p.ID}, "zone defined by multiple peers")
			conflicts = append(conflicts, c)
		}
	}

	if len(conflicts) > 0 {
		return &domain.DuplicateZoneError{Conflicts: conflicts}
	}
	return nil
}
