package intercept

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Cardane/chatlove/internal/idutil"
)

type Kind string

const (
	KindGeneric   Kind = "generic"
	KindChat      Kind = "chat"
	KindStream    Kind = "streaming-chunk"
	KindUnmatched Kind = "unmatched"
)

// Exchange is one correlated request/response (or request/stream) pair
// observed on the host page. Bodies are held digest-truncated only.
type Exchange struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	RequestAt  time.Time `json:"requestAt"`
	ResponseAt time.Time `json:"responseAt,omitzero"`
	Status     int       `json:"status,omitempty"`
	BodyDigest string    `json:"bodyDigest,omitempty"`
	Kind       Kind      `json:"kind"`
	Chunks     int       `json:"chunks,omitempty"`
}

// Matched reports whether both sides of the exchange have been observed.
func (e *Exchange) Matched() bool {
	return !e.ResponseAt.IsZero()
}

// ExchangeStore owns the live exchange set. It hands out copies only.
type ExchangeStore struct {
	window  time.Duration // correlation tolerance for pairing
	ttl     time.Duration // GC horizon for never-matched requests
	bodyCap int

	mu        sync.Mutex
	exchanges map[string]*Exchange
}

func NewExchangeStore(window, ttl time.Duration, bodyCap int) *ExchangeStore {
	if bodyCap <= 0 {
		bodyCap = 2048
	}
	return &ExchangeStore{
		window:    window,
		ttl:       ttl,
		bodyCap:   bodyCap,
		exchanges: make(map[string]*Exchange),
	}
}

// RecordRequest opens a new exchange for an outbound call.
func (s *ExchangeStore) RecordRequest(rawURL, method, body string, at time.Time) Exchange {
	e := &Exchange{
		ID:         idutil.ExchangeID(rawURL),
		URL:        rawURL,
		Method:     method,
		RequestAt:  at,
		BodyDigest: s.clip(body),
		Kind:       classify(rawURL),
	}
	s.mu.Lock()
	s.exchanges[e.ID] = e
	s.mu.Unlock()
	return *e
}

// RecordResponse pairs a response with the nearest-in-time unmatched request
// for the same URL inside the correlation window. Responses to the same URL
// may arrive out of order, so nearest |Δt| wins over FIFO. A response with
// no candidate is kept as an unmatched exchange for diagnostics.
func (s *ExchangeStore) RecordResponse(rawURL string, status int, body string, at time.Time) Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Exchange
	var bestDelta time.Duration
	for _, e := range s.exchanges {
		if e.Matched() || e.URL != rawURL || e.Kind == KindStream {
			continue
		}
		delta := at.Sub(e.RequestAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > s.window {
			continue
		}
		if best == nil || delta < bestDelta {
			best, bestDelta = e, delta
		}
	}

	if best == nil {
		orphan := &Exchange{
			ID:         idutil.ExchangeID(rawURL),
			URL:        rawURL,
			RequestAt:  at,
			ResponseAt: at,
			Status:     status,
			BodyDigest: s.clip(body),
			Kind:       KindUnmatched,
		}
		s.exchanges[orphan.ID] = orphan
		return *orphan
	}

	best.ResponseAt = at
	best.Status = status
	if body != "" {
		best.BodyDigest = s.clip(body)
	}
	return *best
}

// OpenStream registers a long-lived server-push connection as a single
// exchange that accumulates chunk events.
func (s *ExchangeStore) OpenStream(rawURL string, at time.Time) Exchange {
	e := &Exchange{
		ID:        idutil.ExchangeID(rawURL),
		URL:       rawURL,
		Method:    "GET",
		RequestAt: at,
		Kind:      KindStream,
	}
	s.mu.Lock()
	s.exchanges[e.ID] = e
	s.mu.Unlock()
	return *e
}

// RecordChunk appends a chunk to the most recent stream exchange for the
// URL, opening one implicitly if the connect event was missed.
func (s *ExchangeStore) RecordChunk(rawURL, data string, at time.Time) Exchange {
	s.mu.Lock()
	var stream *Exchange
	for _, e := range s.exchanges {
		if e.Kind != KindStream || e.URL != rawURL {
			continue
		}
		if stream == nil || e.RequestAt.After(stream.RequestAt) {
			stream = e
		}
	}
	if stream == nil {
		stream = &Exchange{
			ID:        idutil.ExchangeID(rawURL),
			URL:       rawURL,
			Method:    "GET",
			RequestAt: at,
			Kind:      KindStream,
		}
		s.exchanges[stream.ID] = stream
	}
	stream.Chunks++
	stream.ResponseAt = at
	stream.BodyDigest = s.clip(data)
	out := *stream
	s.mu.Unlock()
	return out
}

// GC drops exchanges whose last activity is older than the TTL. Matched
// pairs and streams age out by their response side, so an idle stream is
// collected too; the live set stays bounded on a long-running daemon.
func (s *ExchangeStore) GC(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.exchanges {
		last := e.RequestAt
		if e.ResponseAt.After(last) {
			last = e.ResponseAt
		}
		if now.Sub(last) > s.ttl {
			delete(s.exchanges, id)
			n++
		}
	}
	return n
}

// Snapshot returns read-only copies ordered by request time.
func (s *ExchangeStore) Snapshot() []Exchange {
	s.mu.Lock()
	out := make([]Exchange, 0, len(s.exchanges))
	for _, e := range s.exchanges {
		out = append(out, *e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RequestAt.Before(out[j].RequestAt) })
	return out
}

// Reset discards the live set, typically at the end of an observation window.
func (s *ExchangeStore) Reset() {
	s.mu.Lock()
	s.exchanges = make(map[string]*Exchange)
	s.mu.Unlock()
}

func (s *ExchangeStore) clip(body string) string {
	if len(body) > s.bodyCap {
		return body[:s.bodyCap]
	}
	return body
}

// classify tags chat/message submission traffic so the finalizer can react
// to it specifically.
func classify(rawURL string) Kind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return KindGeneric
	}
	p := u.Path
	if strings.Contains(p, "/chat") || strings.Contains(p, "/message") || strings.Contains(p, "/stream") {
		return KindChat
	}
	return KindGeneric
}

// ShouldObserve is the hostname allow-list predicate: only traffic to the
// host application's own domains is recorded.
func ShouldObserve(rawURL string, domains []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	h := u.Hostname()
	for _, d := range domains {
		if h == d || strings.HasSuffix(h, "."+d) {
			return true
		}
	}
	return false
}
