package service

import (
	"github.com/Wyydra/campus/internal/core/domain"
)

// statsSampler turns successive transport samples into an outgoing bitrate estimate.
type statsSampler struct {
	last      domain.TransportStats
	primed    bool
	bitrate   uint64
	relayUsed bool
}

func (s *statsSampler) add(st domain.TransportStats) {
	if st.SelectedLocal == domain.CandidateRelay || st.SelectedRemote == domain.CandidateRelay {
		s.relayUsed = true
	}
	if s.primed && st.Timestamp.After(s.last.Timestamp) && st.BytesSent >= s.last.BytesSent {
		elapsed := st.Timestamp.Sub(s.last.Timestamp).Seconds()
		s.bitrate = uint64(float64(st.BytesSent-s.last.BytesSent) * 8 / elapsed)
	}
	s.last = st
	s.primed = true
}

// reset forgets the byte counter baseline; relay usage stays sticky for the call.
func (s *statsSampler) reset() {
	s.last = domain.TransportStats{}
	s.primed = false
	s.bitrate = 0
}

func (s *statsSampler) selectedRelay() bool {
	return s.last.SelectedLocal == domain.CandidateRelay || s.last.SelectedRemote == domain.CandidateRelay
}
