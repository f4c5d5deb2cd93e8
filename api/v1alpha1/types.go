// Package v1alpha1 holds the request and response types of the attention
// simulator service and its gRPC bindings.
package v1alpha1

// Matrix is a dense row-major matrix.
type Matrix struct {
	Rows   int32     `json:"rows"`
	Cols   int32     `json:"cols"`
	Values []float64 `json:"values"`
}

func (m *Matrix) GetRows() int32 {
	if m == nil {
		return 0
	}
	return m.Rows
}

func (m *Matrix) GetCols() int32 {
	if m == nil {
		return 0
	}
	return m.Cols
}

func (m *Matrix) GetValues() []float64 {
	if m == nil {
		return nil
	}
	return m.Values
}

type CalculateRequest struct {
	// Keys, Values and Queries hold one entry per position.
	Keys    []*Matrix `json:"keys"`
	Values  []*Matrix `json:"values"`
	Queries []*Matrix `json:"queries"`

	// Expected, if set, holds the reference answer of every position.
	Expected []*Matrix `json:"expected,omitempty"`

	Strategy             string `json:"strategy,omitempty"`
	DisableStabilization bool   `json:"disableStabilization,omitempty"`
	Verbose              bool   `json:"verbose,omitempty"`

	// Capacity bounds the number of live tensors and FastMemoryLimit the
	// elements resident in fast memory; 0 means unlimited.
	Capacity        int32 `json:"capacity,omitempty"`
	FastMemoryLimit int64 `json:"fastMemoryLimit,omitempty"`
}

func (r *CalculateRequest) GetKeys() []*Matrix {
	if r == nil {
		return nil
	}
	return r.Keys
}

func (r *CalculateRequest) GetValues() []*Matrix {
	if r == nil {
		return nil
	}
	return r.Values
}

func (r *CalculateRequest) GetQueries() []*Matrix {
	if r == nil {
		return nil
	}
	return r.Queries
}

func (r *CalculateRequest) GetExpected() []*Matrix {
	if r == nil {
		return nil
	}
	return r.Expected
}

func (r *CalculateRequest) GetStrategy() string {
	if r == nil {
		return ""
	}
	return r.Strategy
}

func (r *CalculateRequest) GetDisableStabilization() bool {
	if r == nil {
		return false
	}
	return r.DisableStabilization
}

func (r *CalculateRequest) GetCapacity() int32 {
	if r == nil {
		return 0
	}
	return r.Capacity
}

func (r *CalculateRequest) GetFastMemoryLimit() int64 {
	if r == nil {
		return 0
	}
	return r.FastMemoryLimit
}

func (r *CalculateRequest) GetVerbose() bool {
	if r == nil {
		return false
	}
	return r.Verbose
}

type Stats struct {
	Flushes          int32 `json:"flushes"`
	Instructions     int64 `json:"instructions"`
	PeakLiveTensors  int32 `json:"peakLiveTensors"`
	PeakFastElements int64 `json:"peakFastElements"`
}

func (s *Stats) GetFlushes() int32 {
	if s == nil {
		return 0
	}
	return s.Flushes
}

func (s *Stats) GetInstructions() int64 {
	if s == nil {
		return 0
	}
	return s.Instructions
}

func (s *Stats) GetPeakLiveTensors() int32 {
	if s == nil {
		return 0
	}
	return s.PeakLiveTensors
}

func (s *Stats) GetPeakFastElements() int64 {
	if s == nil {
		return 0
	}
	return s.PeakFastElements
}

type CalculateResponse struct {
	// Results holds the committed answer of every position.
	Results []*Matrix `json:"results"`
	Stats   *Stats    `json:"stats,omitempty"`
	Report  string    `json:"report,omitempty"`

	// Passed counts the positions within tolerance of the expected answers;
	// it is -1 when the request had no expected answers.
	Passed int32 `json:"passed"`
}

func (r *CalculateResponse) GetResults() []*Matrix {
	if r == nil {
		return nil
	}
	return r.Results
}

func (r *CalculateResponse) GetStats() *Stats {
	if r == nil {
		return nil
	}
	return r.Stats
}

func (r *CalculateResponse) GetReport() string {
	if r == nil {
		return ""
	}
	return r.Report
}

func (r *CalculateResponse) GetPassed() int32 {
	if r == nil {
		return 0
	}
	return r.Passed
}
