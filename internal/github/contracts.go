package github

// State is the normalized outcome of one fetch for downstream stages.
type State string

const (
	StateOK        State = "ok"
	StateUnchanged State = "unchanged"
	StateEmpty     State = "empty"
	StateFailed    State = "failed"
)

// Result separates payload from fetch semantics. Exactly one state is active;
// the payload is meaningful only for StateOK. The etag is opaque and is meant
// to be forwarded verbatim on the next conditional request for the same
// resource. A Result is consumed immediately by the calling stage and never
// persisted as-is.
type Result[T any] struct {
	state      State
	data       T
	etag       string
	statusCode int
	err        string
}

// OK wraps a decoded payload together with the response etag.
func OK[T any](data T, etag string) Result[T] {
	return Result[T]{state: StateOK, data: data, etag: etag}
}

// Unchanged reports a 304 response; the etag is the one from the response
// headers, which may have rotated even though the resource did not change.
func Unchanged[T any](etag string) Result[T] {
	return Result[T]{state: StateUnchanged, etag: etag}
}

// Empty reports a 200 response whose collection body held no items.
func Empty[T any](etag string) Result[T] {
	return Result[T]{state: StateEmpty, etag: etag}
}

// Failed reports retry exhaustion. The error string must already be redacted;
// constructors inside the client pass everything through Sanitize.
func Failed[T any](statusCode int, err string) Result[T] {
	return Result[T]{state: StateFailed, statusCode: statusCode, err: err}
}

func (r Result[T]) State() State      { return r.state }
func (r Result[T]) IsOK() bool        { return r.state == StateOK }
func (r Result[T]) IsUnchanged() bool { return r.state == StateUnchanged }
func (r Result[T]) IsEmpty() bool     { return r.state == StateEmpty }
func (r Result[T]) IsFailed() bool    { return r.state == StateFailed }

// Data returns the payload; the zero value unless IsOK.
func (r Result[T]) Data() T { return r.data }

// ETag returns the response etag for OK, Unchanged and Empty results.
func (r Result[T]) ETag() string { return r.etag }

// StatusCode returns the last HTTP status for failed results, 0 otherwise.
func (r Result[T]) StatusCode() int { return r.statusCode }

// Err returns the redacted error string for failed results, "" otherwise.
func (r Result[T]) Err() string { return r.err }
