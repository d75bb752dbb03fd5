package descriptor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	logpkg "github.com/haukened/dper/internal/dper/common/log"
	"github.com/haukened/dper/internal/dper/domain"
)

var errNoRoot = errors.New("no root element")

const (
	errTextOutsideRoot = "text outside the root element on line %d"
	errJunkAfterRoot   = "junk after document element on line %d"
)

// xmlDocument matches any root element holding <peer> children:
//
//	<peers>
//	  <peer name="east">
//	    <primary tsig="xfr-key">192.0.2.1</primary>
//	    <zone>example.com</zone>
//	  </peer>
//	</peers>
type xmlDocument struct {
	Peers []xmlPeer `xml:"peer"`
}

type xmlPeer struct {
	Attrs     []xml.Attr   `xml:",any,attr"`
	Primaries []xmlPrimary `xml:"primary"`
	Zones     []string     `xml:"zone"`
}

type xmlPrimary struct {
	Attrs []xml.Attr `xml:",any,attr"`
	IP    string     `xml:",chardata"`
}

// ParseXML decodes a document of <peer> elements. Each element yields one Peer with
// id "{peerID}/{name}". Any invalid element fails the whole document.
func ParseXML(peerID string, data []byte, logger logpkg.Logger) ([]domain.Peer, error) {
	logger.Debug(map[string]any{"peer": peerID}, "reading dynamic config as XML")

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	var doc xmlDocument
	if err := decodeDocument(dec, &doc); err != nil {
		return nil, &domain.ParseError{PeerID: peerID, Format: domain.FormatXML, Err: err}
	}

	peers := make([]domain.Peer, 0, len(doc.Peers))
	for i, xp := range doc.Peers {
		name, ok := attr(xp.Attrs, "name")
		if !ok {
			return nil, &domain.ValidationError{
				Path: fmt.Sprintf("peers.%s.peer[%d].name", peerID, i),
				Msg:  "required attribute missing",
			}
		}

		peer, err := buildPeer(peerID+"/"+name, xp.tree(), logger)
		if err != nil {
			return nil, err
		}
		peers = append(peers, peer)
	}

	logger.Debug(map[string]any{"peer": peerID, "peers": len(peers)}, "XML dynamic config expanded")
	return peers, nil
}

// decodeDocument decodes the single root element into doc. Text outside the root
// and any second top-level element are syntax errors.
func decodeDocument(dec *xml.Decoder, doc *xmlDocument) error {
	var root *xml.StartElement
	for root == nil {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return errNoRoot
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			root = &t
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return fmt.Errorf(errTextOutsideRoot, line(dec))
			}
		}
	}

	if err := dec.DecodeElement(doc, root); err != nil {
		return err
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return fmt.Errorf(errJunkAfterRoot, line(dec))
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return fmt.Errorf(errJunkAfterRoot, line(dec))
			}
		}
	}
}

func line(dec *xml.Decoder) int {
	l, _ := dec.InputPos()
	return l
}

// tree converts the element into the structural form the schema validates.
// A <primary> without a tsig attribute produces a master without the key, which
// the schema reports as missing.
func (xp xmlPeer) tree() map[string]any {
	masters := make([]any, 0, len(xp.Primaries))
	for _, p := range xp.Primaries {
		m := map[string]any{"ip": strings.TrimSpace(p.IP)}
		if tsig, ok := attr(p.Attrs, "tsig"); ok {
			m["tsig"] = tsig
		}
		masters = append(masters, m)
	}

	zones := make([]any, 0, len(xp.Zones))
	for _, z := range xp.Zones {
		zones = append(zones, strings.TrimSpace(z))
	}

	return map[string]any{"masters": masters, "zones": zones}
}

func attr(attrs []xml.Attr, local string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}
