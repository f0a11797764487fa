package service

import (
	"testing"
	"time"

	"github.com/Wyydra/campus/internal/core/domain"
)

func TestStatsSampler(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	direct := func(bytes uint64, at time.Time) domain.TransportStats {
		return domain.TransportStats{BytesSent: bytes, SelectedLocal: domain.CandidateHost, SelectedRemote: domain.CandidateHost, Timestamp: at}
	}
	relayed := func(bytes uint64, at time.Time) domain.TransportStats {
		st := direct(bytes, at)
		st.SelectedRemote = domain.CandidateRelay
		return st
	}

	tests := []struct {
		name        string
		samples     []domain.TransportStats
		wantBitrate uint64
		wantRelay   bool
		wantSelect  bool
	}{
		{
			name:    "single sample has no rate",
			samples: []domain.TransportStats{direct(5000, t0)},
		},
		{
			name:        "byte delta over elapsed time",
			samples:     []domain.TransportStats{direct(1000, t0), direct(3000, t0.Add(2*time.Second))},
			wantBitrate: 8000,
		},
		{
			name:        "stale timestamp keeps last rate",
			samples:     []domain.TransportStats{direct(0, t0), direct(1000, t0.Add(time.Second)), direct(9000, t0.Add(time.Second))},
			wantBitrate: 8000,
		},
		{
			name:    "counter reset is not a rate",
			samples: []domain.TransportStats{direct(9000, t0), direct(100, t0.Add(time.Second))},
		},
		{
			name:        "relay use is sticky",
			samples:     []domain.TransportStats{relayed(0, t0), direct(500, t0.Add(time.Second))},
			wantBitrate: 4000,
			wantRelay:   true,
		},
		{
			name:       "currently relayed",
			samples:    []domain.TransportStats{direct(0, t0), relayed(0, t0.Add(time.Second))},
			wantRelay:  true,
			wantSelect: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s statsSampler
			for _, st := range tt.samples {
				s.add(st)
			}
			if s.bitrate != tt.wantBitrate {
				t.Errorf("bitrate = %d, want %d", s.bitrate, tt.wantBitrate)
			}
			if s.relayUsed != tt.wantRelay {
				t.Errorf("relayUsed = %v, want %v", s.relayUsed, tt.wantRelay)
			}
			if got := s.selectedRelay(); got != tt.wantSelect {
				t.Errorf("selectedRelay = %v, want %v", got, tt.wantSelect)
			}
		})
	}
}

func TestStatsSamplerReset(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	var s statsSampler
	s.add(domain.TransportStats{SelectedLocal: domain.CandidateRelay, Timestamp: t0})
	s.add(domain.TransportStats{BytesSent: 1000, SelectedLocal: domain.CandidateRelay, Timestamp: t0.Add(time.Second)})

	s.reset()
	if s.bitrate != 0 || s.primed || s.selectedRelay() {
		t.Fatalf("sampler after reset = %+v", s)
	}
	if !s.relayUsed {
		t.Fatal("relay use forgotten on reset")
	}

	// A fresh baseline: the first sample after reset yields no rate even with a large counter.
	s.add(domain.TransportStats{BytesSent: 50000, Timestamp: t0.Add(2 * time.Second)})
	if s.bitrate != 0 {
		t.Fatalf("bitrate = %d, want 0", s.bitrate)
	}
}
