package descriptor

import (
	"encoding/json"

	koanfjson "github.com/knadh/koanf/parsers/json"

	logpkg "github.com/haukened/dper/internal/dper/common/log"
	"github.com/haukened/dper/internal/dper/domain"
)

// ParseJSON decodes a single JSON object describing one peer whose id is peerID.
func ParseJSON(peerID string, data []byte, logger logpkg.Logger) ([]domain.Peer, error) {
	logger.Debug(map[string]any{"peer": peerID}, "reading dynamic config as JSON")

	doc, err := koanfjson.Parser().Unmarshal(data)
	if err != nil {
		if json.Valid(data) {
			// well-formed, but not an object
			return nil, &domain.ValidationError{Path: "peers." + peerID, Msg: "expected a dictionary"}
		}
		return nil, &domain.ParseError{PeerID: peerID, Format: domain.FormatJSON, Err: err}
	}

	peer, err := buildPeer(peerID, doc, logger)
	if err != nil {
		return nil, err
	}
	return []domain.Peer{peer}, nil
}
