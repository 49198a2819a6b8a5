package util

import (
	"net/http"
	"testing"
)

func TestNewProxyFunc(t *testing.T) {
	tests := []struct {
		name       string
		httpProxy  string
		httpsProxy string
		noProxy    string
		target     string
		want       string
	}{
		{"http target", "http://proxy:8080", "http://secure:8443", "", "http://api.example.com/v1", "http://proxy:8080"},
		{"https target", "http://proxy:8080", "http://secure:8443", "", "https://api.openai.com/v1", "http://secure:8443"},
		{"https falls back to http proxy", "http://proxy:8080", "", "", "https://api.openai.com/v1", "http://proxy:8080"},
		{"no_proxy match", "http://proxy:8080", "", "internal.example.com", "http://internal.example.com/v1", ""},
		{"loopback bypass", "http://proxy:8080", "", "", "http://localhost:11434/v1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := NewProxyFunc(tt.httpProxy, tt.httpsProxy, tt.noProxy)
			req, err := http.NewRequest(http.MethodGet, tt.target, nil)
			if err != nil {
				t.Fatal(err)
			}

			got, err := fn(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			gotStr := ""
			if got != nil {
				gotStr = got.String()
			}
			if gotStr != tt.want {
				t.Errorf("expected proxy %q, got %q", tt.want, gotStr)
			}
		})
	}
}

func TestNewProxyFunc_Environment(t *testing.T) {
	fn := NewProxyFunc("", "", "")
	if fn == nil {
		t.Fatal("expected environment proxy func")
	}
}
