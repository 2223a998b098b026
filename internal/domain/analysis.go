package domain

// Label is a single image-classification prediction.
type Label struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// AnalysisFailure describes why an image analysis produced no signal.
type AnalysisFailure string

const (
	AnalysisUnavailable  AnalysisFailure = "unavailable"
	AnalysisHTTPStatus   AnalysisFailure = "http_status"
	AnalysisParseError   AnalysisFailure = "parse_error"
	AnalysisUnconfigured AnalysisFailure = "unconfigured"
	AnalysisRateLimited  AnalysisFailure = "rate_limited"
)

// AnalysisResult is either a list of labels or a failure marker.
// A zero Failure means the analysis succeeded.
type AnalysisResult struct {
	Labels  []Label
	Failure AnalysisFailure
	Detail  string
}

// Succeeded reports whether the result carries labels.
func (r *AnalysisResult) Succeeded() bool {
	return r != nil && r.Failure == ""
}

// FailedAnalysis builds a failure result.
func FailedAnalysis(reason AnalysisFailure, detail string) AnalysisResult {
	return AnalysisResult{Failure: reason, Detail: detail}
}
