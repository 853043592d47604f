package utils

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-key-for-link-signing-at-least-32-bytes")

func TestLinkTokenRoundTrip(t *testing.T) {
	s, err := NewLinkSigner(testSecret)
	if err != nil {
		t.Fatalf("NewLinkSigner: %v", err)
	}
	tok, err := s.Sign("media", "music/hls/a1/seg0.ts", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := s.Verify(tok, "media", "music/hls/a1/seg0.ts"); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestLinkTokenRejects(t *testing.T) {
	s, _ := NewLinkSigner(testSecret)
	other, _ := NewLinkSigner([]byte("another-secret-key-that-is-also-32-bytes-long"))

	valid, _ := s.Sign("media", "a/index.m3u8", time.Now().Add(time.Minute))
	expired, _ := s.Sign("media", "a/index.m3u8", time.Now().Add(-2*time.Minute))
	forged, _ := other.Sign("media", "a/index.m3u8", time.Now().Add(time.Minute))

	tests := []struct {
		name  string
		token string
		key   string
		want  error
	}{
		{"empty", "", "a/index.m3u8", ErrInvalidToken},
		{"garbage", "not-a-jwt", "a/index.m3u8", ErrInvalidToken},
		{"expired", expired, "a/index.m3u8", ErrTokenExpired},
		{"wrong secret", forged, "a/index.m3u8", ErrInvalidSignature},
		{"other key", valid, "b/index.m3u8", ErrTokenMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Verify(tt.token, "media", tt.key)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestShortSecretRejected(t *testing.T) {
	if _, err := NewLinkSigner([]byte("short")); err == nil {
		t.Fatal("expected error for short secret")
	}
}
