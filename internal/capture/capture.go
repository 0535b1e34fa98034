// Package capture analyzes recorded host-app traffic offline. A capture
// file is what the daemon's recording window writes: raw request and
// response observations plus cookie snapshots.
package capture

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
)

type Request struct {
	URL    string    `json:"url"`
	Method string    `json:"method"`
	At     time.Time `json:"at"`
}

type Response struct {
	URL    string    `json:"url"`
	Status int       `json:"status"`
	Stream bool      `json:"stream,omitempty"`
	Chunks int       `json:"chunks,omitempty"`
	At     time.Time `json:"at"`
}

type CookieSnapshot struct {
	Names []string  `json:"names"`
	At    time.Time `json:"at"`
}

type Capture struct {
	Requests        []Request        `json:"requests"`
	Responses       []Response       `json:"responses"`
	CookieSnapshots []CookieSnapshot `json:"cookieSnapshots"`
}

// EndpointStat aggregates traffic per normalized endpoint path.
type EndpointStat struct {
	Endpoint  string `json:"endpoint"`
	Requests  int    `json:"requests"`
	Responses int    `json:"responses"`
	Streams   int    `json:"streams"`
	Chat      bool   `json:"chat,omitempty"`
}

type Report struct {
	Requests     int            `json:"requests"`
	Responses    int            `json:"responses"`
	Unanswered   int            `json:"unanswered"`
	Endpoints    []EndpointStat `json:"endpoints"`
	StatusCounts map[string]int `json:"statusCounts"`
	StreamCount  int            `json:"streamCount"`
	CookieNames  []string       `json:"cookieNames"`
}

// Load reads a capture file produced by a recording window.
func Load(path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (*Capture, error) {
	var c Capture
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	return &c, nil
}

// Analyze builds the summary report: per-endpoint histogram, status class
// distribution, stream detection, and the union of observed cookie names.
func Analyze(c *Capture) *Report {
	type agg struct {
		req, resp, streams int
	}
	byEndpoint := map[string]*agg{}

	get := func(ep string) *agg {
		a, ok := byEndpoint[ep]
		if !ok {
			a = &agg{}
			byEndpoint[ep] = a
		}
		return a
	}

	for _, r := range c.Requests {
		get(Endpoint(r.URL)).req++
	}

	statusCounts := map[string]int{}
	streams := 0
	for _, r := range c.Responses {
		a := get(Endpoint(r.URL))
		a.resp++
		if r.Stream {
			a.streams++
			streams++
		}
		statusCounts[statusClass(r.Status)]++
	}

	cookieSet := map[string]bool{}
	for _, snap := range c.CookieSnapshots {
		for _, n := range snap.Names {
			cookieSet[n] = true
		}
	}
	cookieNames := make([]string, 0, len(cookieSet))
	for n := range cookieSet {
		cookieNames = append(cookieNames, n)
	}
	sort.Strings(cookieNames)

	endpoints := make([]EndpointStat, 0, len(byEndpoint))
	for ep, a := range byEndpoint {
		endpoints = append(endpoints, EndpointStat{
			Endpoint:  ep,
			Requests:  a.req,
			Responses: a.resp,
			Streams:   a.streams,
			Chat:      isChatPath(ep),
		})
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Requests != endpoints[j].Requests {
			return endpoints[i].Requests > endpoints[j].Requests
		}
		return endpoints[i].Endpoint < endpoints[j].Endpoint
	})

	unanswered := 0
	for _, e := range endpoints {
		if e.Requests > e.Responses {
			unanswered += e.Requests - e.Responses
		}
	}

	return &Report{
		Requests:     len(c.Requests),
		Responses:    len(c.Responses),
		Unanswered:   unanswered,
		Endpoints:    endpoints,
		StatusCounts: statusCounts,
		StreamCount:  streams,
		CookieNames:  cookieNames,
	}
}

// Endpoint normalizes a URL to host + path with volatile path segments
// (UUIDs, long numbers) collapsed, so per-resource URLs aggregate.
func Endpoint(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if looksVolatile(p) {
			parts[i] = "{id}"
		}
	}
	return u.Host + "/" + strings.Join(parts, "/")
}

func looksVolatile(seg string) bool {
	if len(seg) == 36 && strings.Count(seg, "-") == 4 {
		return true
	}
	if len(seg) >= 8 {
		digits := 0
		for _, r := range seg {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits*2 > len(seg) {
			return true
		}
	}
	return false
}

func isChatPath(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	return strings.Contains(lower, "/chat") ||
		strings.Contains(lower, "/message") ||
		strings.Contains(lower, "/stream")
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
