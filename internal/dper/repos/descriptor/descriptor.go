// Package descriptor decodes a peer's dynamic descriptor payload (JSON or XML) into
// validated domain.Peer values. A payload either yields all of its peers or an error;
// there is no partial result.
package descriptor

import (
	"fmt"

	logpkg "github.com/haukened/dper/internal/dper/common/log"
	"github.com/haukened/dper/internal/dper/domain"
	"github.com/haukened/dper/internal/dper/schema"
)

// Parser decodes descriptors for the orchestration layer.
type Parser struct {
	logger logpkg.Logger
}

// NewParser returns a Parser that logs through logger.
func NewParser(logger logpkg.Logger) *Parser {
	if logger == nil {
		logger = logpkg.NewNoopLogger()
	}
	return &Parser{logger: logger}
}

// Parse decodes data according to format on behalf of the configured peer peerID.
func (p *Parser) Parse(peerID string, format domain.PayloadFormat, data []byte) ([]domain.Peer, error) {
	switch format {
	case domain.FormatJSON:
		return ParseJSON(peerID, data, p.logger)
	case domain.FormatXML:
		return ParseXML(peerID, data, p.logger)
	default:
		return nil, fmt.Errorf("peer %s: invalid format: %s", peerID, format)
	}
}

// buildPeer validates a structural document and constructs the Peer from it.
func buildPeer(id string, doc any, logger logpkg.Logger) (domain.Peer, error) {
	d, err := schema.ValidateDescriptor(schema.Join("peers", id), doc)
	if err != nil {
		return domain.Peer{}, err
	}
	peer, err := domain.NewPeer(id, d.Masters, d.Zones)
	if err != nil {
		return domain.Peer{}, &domain.ValidationError{Path: schema.Join("peers", id), Msg: err.Error()}
	}
	logger.Debug(map[string]any{"peer": id, "zones": len(peer.Zones), "masters": len(peer.Masters)}, "dynamic config OK")
	return peer, nil
}
