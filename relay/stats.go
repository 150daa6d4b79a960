package relay

// Stats is a point-in-time snapshot of the relay for the status endpoint.
type Stats struct {
	Connections    int    `json:"connections"`
	Live           int    `json:"live"`
	Channel        string `json:"channel"`
	IngestDepth    int    `json:"ingest_depth"`
	IngestCapacity int    `json:"ingest_capacity"`
	EventsDropped  uint64 `json:"events_dropped"`
}

// Snapshot collects current hub and ingest counters.
func Snapshot(h *Hub, q *Ingest) Stats {
	s := Stats{}
	if h != nil {
		s.Connections, s.Live = h.Counts()
	}
	if q != nil {
		s.Channel = q.Channel()
		s.IngestDepth = q.Depth()
		s.IngestCapacity = q.Capacity()
		s.EventsDropped = q.Dropped()
	}
	return s
}
