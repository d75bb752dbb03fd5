// Package render turns validated peers into secondary server configuration text.
// Output depends only on its inputs: peers and zones are emitted in the order given.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/haukened/dper/internal/dper/domain"
)

// Options are the dialect specific knobs from static configuration.
// Zonefiles applies to NSD; Template and ACL apply to Knot.
type Options struct {
	Zonefiles bool
	Template  string
	ACL       string
}

// Renderer renders with a fixed dialect and options.
type Renderer struct {
	dialect domain.Dialect
	opts    Options
}

// New returns a Renderer for dialect.
func New(dialect domain.Dialect, opts Options) *Renderer {
	return &Renderer{dialect: dialect, opts: opts}
}

// Render produces the configuration text for peers.
func (r *Renderer) Render(peers []domain.Peer) (string, error) {
	return Render(peers, r.dialect, r.opts)
}

// Render produces the configuration text for peers in the given dialect.
func Render(peers []domain.Peer, dialect domain.Dialect, opts Options) (string, error) {
	var b strings.Builder
	switch dialect {
	case domain.DialectNSD:
		WriteNSD(&b, peers, opts.Zonefiles)
	case domain.DialectKnot:
		WriteKnot(&b, peers, opts.Template, opts.ACL)
	default:
		return "", fmt.Errorf("invalid output format: %s", dialect)
	}
	return b.String(), nil
}

// WriteNSD writes one zone stanza per zone of every peer. Each master contributes a
// keyed allow-notify, an unkeyed allow-notify and a keyed request-xfr.
func WriteNSD(w io.Writer, peers []domain.Peer, zonefiles bool) {
	for _, peer := range peers {
		for _, zone := range peer.Zones {
			fmt.Fprintf(w, "# %s\n", peer.ID)
			fmt.Fprintf(w, "zone:\n")
			fmt.Fprintf(w, "  name: %s\n", zone)
			if zonefiles {
				fmt.Fprintf(w, "  zonefile: %s\n", domain.ZoneFileName(zone))
			}
			for _, m := range peer.Masters {
				fmt.Fprintf(w, "  allow-notify: %s %s\n", m.Address(), m.TSIG)
				fmt.Fprintf(w, "  allow-notify: %s NOKEY\n", m.Address())
				fmt.Fprintf(w, "  request-xfr: %s %s\n", m.Address(), m.TSIG)
			}
			fmt.Fprintln(w)
		}
	}
}

// WriteKnot writes remote, acl and zone sections for every peer. Remote ids are
// "{peer}/{n}" with n counting masters from 1; each remote gets an acl entry of
// the same id. Zones reference every remote as master and every acl id, with the
// static acl (when set) listed first.
func WriteKnot(w io.Writer, peers []domain.Peer, template, acl string) {
	for _, peer := range peers {
		remotes := make([]string, 0, len(peer.Masters))

		fmt.Fprintf(w, "remote:\n")
		for i, m := range peer.Masters {
			id := peer.RemoteID(i + 1)
			fmt.Fprintf(w, "  - id: %s\n", id)
			fmt.Fprintf(w, "    address: %s\n", m.Address())
			if m.TSIG != "" {
				fmt.Fprintf(w, "    key: %s\n", m.TSIG)
			}
			remotes = append(remotes, id)
		}

		acls := make([]string, 0, len(remotes)+1)
		if acl != "" {
			acls = append(acls, acl)
		}
		fmt.Fprintf(w, "acl:\n")
		for _, id := range remotes {
			fmt.Fprintf(w, "  - id: %s\n", id)
			fmt.Fprintf(w, "    remote: %s\n", id)
			fmt.Fprintf(w, "    action: [notify,transfer]\n")
			acls = append(acls, id)
		}

		fmt.Fprintf(w, "zone:\n")
		for _, zone := range peer.Zones {
			fmt.Fprintf(w, "  - domain: %s\n", zone)
			if template != "" {
				fmt.Fprintf(w, "    template: %s\n", template)
			}
			fmt.Fprintf(w, "    master: [%s]\n", strings.Join(remotes, ","))
			fmt.Fprintf(w, "    acl: [%s]\n", strings.Join(acls, ","))
		}
	}
}
