// Package schema validates dynamic peer descriptors after they have been decoded
// into a structural tree of map[string]any, []any and scalars.
//
// The descriptor schema is:
//
//	masters: [ { ip: <IPv4 or IPv6 address>, tsig: <key name> } ]
//	zones:   [ <zone name> ]
//
// Key and zone names are either a bare \w+ token or a domain name. Every
// violation in a document is reported, each as a *domain.ValidationError whose
// Path locates the field.
package schema

import (
	"fmt"
	"net/netip"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/miekg/dns"
	"go.uber.org/multierr"

	"github.com/haukened/dper/internal/dper/domain"
)

const (
	msgRequired   = "required key not provided"
	msgExtraKey   = "extra keys not allowed"
	msgExpectMap  = "expected a dictionary"
	msgExpectList = "expected a list"
	msgExpectStr  = "expected str"
	msgBadIP      = "not a valid IP address"
	msgBadName    = "not a valid key or domain name"
)

var (
	tokenPattern = regexp.MustCompile(`^\w+$`)
	// labels may carry '_' (service labels) and '/' (RFC 2317 classless reverse zones)
	domainPattern = regexp.MustCompile(`^(?:[A-Za-z0-9_](?:[A-Za-z0-9_/-]{0,61}[A-Za-z0-9_])?\.)*[A-Za-z0-9_](?:[A-Za-z0-9_/-]{0,61}[A-Za-z0-9_])?\.?$`)
)

// Descriptor is a validated dynamic descriptor. Zones are returned as supplied;
// normalization happens when a domain.Peer is built from them.
type Descriptor struct {
	Masters []domain.PeerMaster
	Zones   []string
}

// ValidateDescriptor checks doc against the descriptor schema. root prefixes every
// error path, e.g. "peers.example".
func ValidateDescriptor(root string, doc any) (Descriptor, error) {
	m, err := mapping(root, doc, "masters", "zones")
	if err != nil {
		return Descriptor{}, err
	}

	var errs error
	masters, err := sequence(Join(root, "masters"), m["masters"], master)
	errs = multierr.Append(errs, err)
	zones, err := sequence(Join(root, "zones"), m["zones"], KeyOrDomainName)
	errs = multierr.Append(errs, err)
	if errs != nil {
		return Descriptor{}, errs
	}

	return Descriptor{Masters: masters, Zones: zones}, nil
}

// Join appends a key to a dotted path.
func Join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// Index appends a sequence index to a path.
func Index(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func invalid(path, msg string) error {
	return &domain.ValidationError{Path: path, Msg: msg}
}

// mapping requires v to be a map holding exactly the given keys.
func mapping(path string, v any, keys ...string) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, invalid(path, msgExpectMap)
	}

	var errs error
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			errs = multierr.Append(errs, invalid(Join(path, k), msgRequired))
		}
	}

	extra := make([]string, 0)
	for k := range m {
		if !slices.Contains(keys, k) {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		errs = multierr.Append(errs, invalid(Join(path, k), msgExtraKey))
	}

	if errs != nil {
		return nil, errs
	}
	return m, nil
}

// sequence requires v to be a list and checks every element with elem.
func sequence[T any](path string, v any, elem func(string, any) (T, error)) ([]T, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, invalid(path, msgExpectList)
	}

	var errs error
	out := make([]T, 0, len(list))
	for i, item := range list {
		val, err := elem(Index(path, i), item)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, val)
	}
	if errs != nil {
		return nil, errs
	}
	return out, nil
}

func str(path string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", invalid(path, msgExpectStr)
	}
	return s, nil
}

// IPAddress checks that v is a textual IPv4 or IPv6 address without a zone.
func IPAddress(path string, v any) (netip.Addr, error) {
	s, err := str(path, v)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, invalid(path, msgBadIP)
	}
	return addr, nil
}

// KeyOrDomainName checks that v is a bare \w+ token or a domain name.
func KeyOrDomainName(path string, v any) (string, error) {
	s, err := str(path, v)
	if err != nil {
		return "", err
	}
	if !IsKeyOrDomainName(s) {
		return "", invalid(path, msgBadName)
	}
	return s, nil
}

// IsKeyOrDomainName reports whether s is a bare \w+ token or a well-formed domain name.
func IsKeyOrDomainName(s string) bool {
	if tokenPattern.MatchString(s) {
		return true
	}
	if !domainPattern.MatchString(s) {
		return false
	}
	_, ok := dns.IsDomainName(s)
	return ok
}

func master(path string, v any) (domain.PeerMaster, error) {
	m, err := mapping(path, v, "ip", "tsig")
	if err != nil {
		return domain.PeerMaster{}, err
	}

	var errs error
	ip, err := IPAddress(Join(path, "ip"), m["ip"])
	errs = multierr.Append(errs, err)
	tsig, err := KeyOrDomainName(Join(path, "tsig"), m["tsig"])
	errs = multierr.Append(errs, err)
	if errs != nil {
		return domain.PeerMaster{}, errs
	}
	pm, err := domain.NewPeerMaster(ip, tsig)
	if err != nil {
		return domain.PeerMaster{}, err
	}
	pm.Text = strings.TrimSpace(m["ip"].(string))
	return pm, nil
}
