package intercept

import "sync"

// HostnameSlot is the shared "currently observed destination hostname"
// hint. Every handshake writes it and out-of-band observers (a DNS
// responder, typically) may write it too. It is last-writer-wins across
// concurrent connections and therefore only ever a best-effort hint:
// per-connection identity must come from the handshake's own negotiated
// hostname, never from here.
type HostnameSlot struct {
	mu       sync.Mutex
	hostname string
}

func (s *HostnameSlot) Set(hostname string) {
	s.mu.Lock()
	s.hostname = hostname
	s.mu.Unlock()
}

func (s *HostnameSlot) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostname
}
