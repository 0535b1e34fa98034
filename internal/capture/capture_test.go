package capture

import (
	"strings"
	"testing"
	"time"
)

func sampleCapture() *Capture {
	now := time.Now()
	return &Capture{
		Requests: []Request{
			{URL: "https://api.lovable.dev/projects/0b5e1a9e-8f2d-4c71-9d3a-6c1f2e8b4a55/chat", Method: "POST", At: now},
			{URL: "https://api.lovable.dev/projects/77aa1b2c-1111-4222-8333-944455566677/chat", Method: "POST", At: now},
			{URL: "https://api.lovable.dev/user/profile", Method: "GET", At: now},
		},
		Responses: []Response{
			{URL: "https://api.lovable.dev/projects/0b5e1a9e-8f2d-4c71-9d3a-6c1f2e8b4a55/chat", Status: 200, Stream: true, Chunks: 12, At: now},
			{URL: "https://api.lovable.dev/user/profile", Status: 200, At: now},
		},
		CookieSnapshots: []CookieSnapshot{
			{Names: []string{"lovable-session-id.id", "theme"}, At: now},
			{Names: []string{"lovable-session-id.id"}, At: now},
		},
	}
}

func TestEndpointCollapsesVolatileSegments(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://api.lovable.dev/projects/0b5e1a9e-8f2d-4c71-9d3a-6c1f2e8b4a55/chat", "api.lovable.dev/projects/{id}/chat"},
		{"https://api.lovable.dev/user/profile", "api.lovable.dev/user/profile"},
		{"https://api.lovable.dev/jobs/123456789", "api.lovable.dev/jobs/{id}"},
		{"not a url", "not a url"},
	}
	for _, tc := range cases {
		if got := Endpoint(tc.in); got != tc.want {
			t.Errorf("Endpoint(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAnalyze(t *testing.T) {
	r := Analyze(sampleCapture())

	if r.Requests != 3 || r.Responses != 2 {
		t.Fatalf("totals = %d/%d", r.Requests, r.Responses)
	}
	if r.Unanswered != 1 {
		t.Errorf("unanswered = %d, want 1", r.Unanswered)
	}
	if r.StreamCount != 1 {
		t.Errorf("streams = %d, want 1", r.StreamCount)
	}
	if r.StatusCounts["2xx"] != 2 {
		t.Errorf("2xx count = %d", r.StatusCounts["2xx"])
	}

	// Both project chats collapse into one endpoint, sorted first by volume.
	if len(r.Endpoints) != 2 {
		t.Fatalf("endpoints = %d, want 2", len(r.Endpoints))
	}
	top := r.Endpoints[0]
	if top.Endpoint != "api.lovable.dev/projects/{id}/chat" || top.Requests != 2 || !top.Chat {
		t.Errorf("top endpoint = %+v", top)
	}

	if len(r.CookieNames) != 2 || r.CookieNames[0] != "lovable-session-id.id" {
		t.Errorf("cookieNames = %v", r.CookieNames)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(strings.NewReader("{not json")); err == nil {
		t.Fatal("garbage should not decode")
	}
}

func TestDecodeEmptyCapture(t *testing.T) {
	c, err := Decode(strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	r := Analyze(c)
	if r.Requests != 0 || len(r.Endpoints) != 0 {
		t.Fatalf("report = %+v", r)
	}
}
