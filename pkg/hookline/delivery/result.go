package delivery

// Result reports the outcome of one delivery attempt-sequence.
// Created per delivery, returned to the caller, never persisted by the
// pipeline itself (the history store keeps copies when configured).
type Result struct {
	// Success is true for 2xx responses and for payloads skipped by a
	// destination filter (filtered is not an error).
	Success bool `json:"success"`

	// URL identifies the destination.
	URL string `json:"destinationUrl"`

	// StatusCode is the last HTTP status observed, 0 if no response
	// was ever received.
	StatusCode int `json:"statusCode,omitempty"`

	// Error holds the last attempt's error message when Success is false.
	Error string `json:"error,omitempty"`

	// Attempts is the number of HTTP attempts made. 0 means the
	// payload never reached the transport (filtered, or queued for
	// later delivery).
	Attempts int `json:"attempts"`

	// Queued is true when the rate limiter held the payload back for a
	// later flush instead of delivering it inline.
	Queued bool `json:"wasQueued,omitempty"`
}

// Filtered builds the result for a payload a destination filter skipped.
func Filtered(url string) Result {
	return Result{Success: true, URL: url}
}

// QueuedResult builds the result for a payload accepted into a
// rate-limit queue; the actual delivery happens asynchronously.
func QueuedResult(url string) Result {
	return Result{Success: true, URL: url, Queued: true}
}
