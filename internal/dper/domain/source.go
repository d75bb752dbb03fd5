package domain

// PeerSource is a configured origin of dynamic descriptors.
// CachePath is empty when caching is disabled.
type PeerSource struct {
	ID        string
	URL       string
	Format    PayloadFormat
	CachePath string
}

// Request builds the fetch request for this source.
func (s PeerSource) Request(forceCache bool) FetchRequest {
	return FetchRequest{
		PeerID:     s.ID,
		URL:        s.URL,
		CachePath:  s.CachePath,
		ForceCache: forceCache,
	}
}
