package scraper

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetryable
	outcomeFatal
)

// Outcome is the explicit result of one background task execution. The job
// runner inspects it to decide whether to re-enqueue, instead of using
// exceptions or panics as control flow.
type Outcome struct {
	kind outcomeKind
	err  error
}

// OutcomeSuccess marks a task that finished and must not be re-enqueued.
func OutcomeSuccess() Outcome {
	return Outcome{kind: outcomeSuccess}
}

// OutcomeRetryable marks a transient failure eligible for bounded retry.
func OutcomeRetryable(err error) Outcome {
	return Outcome{kind: outcomeRetryable, err: err}
}

// OutcomeFatal marks a precondition failure that retrying cannot fix.
func OutcomeFatal(err error) Outcome {
	return Outcome{kind: outcomeFatal, err: err}
}

// Succeeded reports whether the task completed.
func (o Outcome) Succeeded() bool { return o.kind == outcomeSuccess }

// ShouldRetry reports whether the job runner may re-enqueue the task.
func (o Outcome) ShouldRetry() bool { return o.kind == outcomeRetryable }

// Err returns the failure cause, nil on success.
func (o Outcome) Err() error { return o.err }
