package httputil

import (
	"net/http"
	"testing"
	"time"
)

func TestLLMConfig_TransportDefaults(t *testing.T) {
	cfg := LLMConfig(DefaultLLMTimeout)

	tests := []struct {
		name     string
		got      time.Duration
		expected time.Duration
	}{
		{"DialTimeout", cfg.DialTimeout, 10 * time.Second},
		{"TLSHandshakeTimeout", cfg.TLSHandshakeTimeout, 10 * time.Second},
		{"IdleConnTimeout", cfg.IdleConnTimeout, 90 * time.Second},
	}

	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
		}
	}
	if cfg.MaxIdleConnsPerHost != 10 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 10", cfg.MaxIdleConnsPerHost)
	}
}

func TestLLMConfig(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
	}{
		{"sql generation", DefaultLLMTimeout},
		{"team building", DefaultTeamLLMTimeout},
		{"custom", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LLMConfig(tt.timeout)
			if cfg.Timeout != tt.timeout {
				t.Errorf("Timeout = %v, want %v", cfg.Timeout, tt.timeout)
			}
			if cfg.ResponseHeaderTimeout != tt.timeout {
				t.Errorf("ResponseHeaderTimeout = %v, want %v", cfg.ResponseHeaderTimeout, tt.timeout)
			}

			client := NewClient(cfg)
			if client.Timeout != tt.timeout {
				t.Errorf("client.Timeout = %v, want %v", client.Timeout, tt.timeout)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	cfg := ClientConfig{
		Timeout:               60 * time.Second,
		DialTimeout:           5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       45 * time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   5,
	}

	client := NewClient(cfg)

	if client.Timeout != cfg.Timeout {
		t.Errorf("client.Timeout = %v, want %v", client.Timeout, cfg.Timeout)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatal("client.Transport should be *http.Transport")
	}
	if transport.ResponseHeaderTimeout != cfg.ResponseHeaderTimeout {
		t.Errorf("ResponseHeaderTimeout = %v, want %v", transport.ResponseHeaderTimeout, cfg.ResponseHeaderTimeout)
	}
	if transport.MaxIdleConnsPerHost != 5 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 5", transport.MaxIdleConnsPerHost)
	}
}

func TestClientConfig_ZeroValues(t *testing.T) {
	client := NewClient(ClientConfig{})

	// zero means no timeout
	if client.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", client.Timeout)
	}
}
