package model

import (
	"testing"
	"time"
)

func TestProxyLeasable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name     string
		proxy    Proxy
		expected bool
	}{
		{"active unblocked", Proxy{IsActive: true}, true},
		{"inactive", Proxy{IsActive: false}, false},
		{"active block lapsed", Proxy{IsActive: true, BlockedUntil: &past}, true},
		{"active block pending", Proxy{IsActive: true, BlockedUntil: &future}, false},
		{"inactive block lapsed", Proxy{IsActive: false, BlockedUntil: &past}, false},
		{"block deadline exactly now", Proxy{IsActive: true, BlockedUntil: &now}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.proxy.Leasable(now); got != tt.expected {
				t.Errorf("Leasable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestClampCheckInterval(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, MinCheckInterval},
		{29, MinCheckInterval},
		{30, 30},
		{60, 60},
		{-10, MinCheckInterval},
	}
	for _, tt := range tests {
		if got := ClampCheckInterval(tt.in); got != tt.want {
			t.Errorf("ClampCheckInterval(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSuccessRatio(t *testing.T) {
	if got := (Proxy{}).SuccessRatio(); got != 0 {
		t.Errorf("unused proxy ratio = %v, want 0", got)
	}
	if got := (Proxy{Successes: 3, Failures: 1}).SuccessRatio(); got != 0.75 {
		t.Errorf("ratio = %v, want 0.75", got)
	}
}
