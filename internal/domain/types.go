package domain

import "time"

// ErrorKind classifies why an execution attempt failed.
type ErrorKind string

const (
	ErrorNone          ErrorKind = ""
	ErrorTransport     ErrorKind = "transport"      // timeout, DNS, connection refused
	ErrorHTTP          ErrorKind = "http"           // response outside [200,400)
	ErrorMalformedBody ErrorKind = "malformed_body" // declared JSON body that does not parse
)

// Job is a stored HTTP job definition.
type Job struct {
	ID          string
	Name        string
	URL         string
	Method      string
	Headers     map[string]string
	Body        []byte
	ContentType string
	CronSpec    string
	Active      bool
	CreatedAt   time.Time
	LastRun     *time.Time
	LastStatus  string // "success" | "failed" | ""
}

// ExecutionRequest is the immutable snapshot of a job taken at fire time.
// Mutating the job afterwards must not affect an in-flight execution, so
// the snapshot copies headers and body.
type ExecutionRequest struct {
	JobID       string
	URL         string
	Method      string
	Headers     map[string]string
	Body        []byte
	ContentType string
}

// NewExecutionRequest snapshots a job for one execution attempt.
func NewExecutionRequest(j Job) ExecutionRequest {
	headers := make(map[string]string, len(j.Headers))
	for k, v := range j.Headers {
		headers[k] = v
	}
	var body []byte
	if len(j.Body) > 0 {
		body = make([]byte, len(j.Body))
		copy(body, j.Body)
	}
	return ExecutionRequest{
		JobID:       j.ID,
		URL:         j.URL,
		Method:      j.Method,
		Headers:     headers,
		Body:        body,
		ContentType: j.ContentType,
	}
}

// Outcome is the result of one execution attempt. Created exactly once per
// attempt, never mutated afterwards.
type Outcome struct {
	JobID           string
	StartedAt       time.Time
	Duration        time.Duration
	StatusCode      int // 0 when no HTTP response was received
	Success         bool
	ErrorKind       ErrorKind
	ErrorMessage    string
	ResponseExcerpt string
}

// HistoryRecord is the durable form of an Outcome.
type HistoryRecord struct {
	ID              string        `json:"id"`
	JobID           string        `json:"job_id"`
	Timestamp       time.Time     `json:"timestamp"`
	StatusCode      *int          `json:"status_code"`
	Duration        time.Duration `json:"duration"`
	Success         bool          `json:"success"`
	ErrorMessage    *string       `json:"error_message"`
	ResponseExcerpt *string       `json:"response_excerpt"`
}

// Stats summarizes all retained history for one job.
type Stats struct {
	Total       int           `json:"total_executions"`
	Successes   int           `json:"successful_executions"`
	Failures    int           `json:"failed_executions"`
	SuccessRate float64       `json:"success_rate"` // percent
	AvgDuration time.Duration `json:"average_duration"`
}

// ExcerptLimit bounds stored response bodies.
const ExcerptLimit = 1000

// Excerpt truncates s to at most ExcerptLimit characters.
func Excerpt(s string) string {
	r := []rune(s)
	if len(r) <= ExcerptLimit {
		return s
	}
	return string(r[:ExcerptLimit])
}
