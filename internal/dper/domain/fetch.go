package domain

// FetchRequest describes one retrieval of a peer's dynamic descriptor.
// An empty CachePath disables caching; ForceCache skips the network when a cache is in use.
type FetchRequest struct {
	PeerID     string
	URL        string
	CachePath  string
	ForceCache bool
}

// Payload is the raw descriptor returned by a fetch.
// StatusCode is zero when the network was not consulted.
type Payload struct {
	Data       []byte
	FromCache  bool
	StatusCode int
}
