package s3

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"drafts/d-1/a-1":    "drafts/d-1/a-1",
		"/drafts//d-1/a-1":  "drafts/d-1/a-1",
		"../../etc/passwd":  "etc/passwd",
		"drafts/./d-1/../x": "drafts/x",
	}
	for in, want := range cases {
		if got := cleanKey(in); got != want {
			t.Fatalf("cleanKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPresignGetIsOffline(t *testing.T) {
	// presigning only signs locally once the bucket region is known
	s, err := newUnchecked(Config{Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk", Bucket: "wastedraft", Region: "us-east-1", PathStyle: true})
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	u, err := s.PresignGet(context.Background(), "drafts/d-1/a-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet returned error: %v", err)
	}
	if !strings.HasPrefix(u, "http://localhost:9000/wastedraft/drafts/d-1/a-1?") {
		t.Fatalf("unexpected url %s", u)
	}
	if !strings.Contains(u, "X-Amz-Expires=300") {
		t.Fatalf("expected 300s expiry in %s", u)
	}
}

func TestUninitializedStorage(t *testing.T) {
	var s *Storage
	if _, err := s.PresignGet(context.Background(), "k", time.Minute); err == nil {
		t.Fatalf("expected error from nil storage")
	}
	if err := s.Delete(context.Background(), "k"); err == nil {
		t.Fatalf("expected error from nil storage")
	}
}
