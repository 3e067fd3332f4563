package errs

// Status is the top-level outcome discriminant on a Result.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Idempotency classifies how safe it is to retry the command that produced
// a Result.
type Idempotency string

const (
	Idempotent              Idempotency = "idempotent"
	ConditionallyIdempotent Idempotency = "conditionally_idempotent"
	NonIdempotent           Idempotency = "non_idempotent"
)

// Metadata rides along with every Result, independent of success/failure.
type Metadata struct {
	Action         string
	Idempotency    Idempotency
	CorrelationID  string
	DurationUs     int64
	IdempotencyKey string
}

// Result is the envelope every session command returns in place of a bare
// (value, error) pair, carrying action metadata alongside the outcome.
type Result struct {
	Status   Status
	Value    any
	Err      *Error
	Metadata Metadata
}

// Ok builds a successful Result.
func Ok(value any, meta Metadata) Result {
	meta.Idempotency = defaultIdempotency(meta)
	return Result{Status: StatusOK, Value: value, Metadata: meta}
}

// Fail builds a failed Result from an *Error.
func Fail(err *Error, meta Metadata) Result {
	meta.Idempotency = defaultIdempotency(meta)
	return Result{Status: StatusError, Err: err, Metadata: meta}
}

func defaultIdempotency(meta Metadata) Idempotency {
	if meta.Idempotency != "" {
		return meta.Idempotency
	}
	return NonIdempotent
}
