package v1alpha1

import "testing"

func TestNilGetters(t *testing.T) {
	var response *CalculateResponse
	stats := response.GetStats()
	if stats.GetFlushes() != 0 || stats.GetInstructions() != 0 || stats.GetPeakLiveTensors() != 0 || stats.GetPeakFastElements() != 0 {
		t.Errorf("expected zero stats from a nil response")
	}

	response = &CalculateResponse{Stats: &Stats{Flushes: 2, Instructions: 30, PeakLiveTensors: 9, PeakFastElements: 12}}
	stats = response.GetStats()
	if stats.GetFlushes() != 2 || stats.GetInstructions() != 30 || stats.GetPeakLiveTensors() != 9 || stats.GetPeakFastElements() != 12 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
