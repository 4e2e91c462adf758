package pipeline

import (
	"errors"
	"fmt"
)

// ErrConfiguration matches every error caused by a mistake in pipeline
// definitions or in how a run was set up. Such errors are reported before any
// processor of the affected step runs.
var ErrConfiguration = errors.New("pipeline configuration error")

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }

func (e *configError) Is(target error) bool { return target == ErrConfiguration }

// Configuration error kinds. Each satisfies errors.Is(err, ErrConfiguration).
var (
	ErrUnknownPipeline  error = &configError{"unknown pipeline"}
	ErrUnknownProcessor error = &configError{"unknown processor type"}
	ErrInvalidParam     error = &configError{"invalid processor parameter"}
	ErrArgsType         error = &configError{"incompatible processor arguments"}
	ErrMalformedStep    error = &configError{"malformed step"}
	ErrMissingArgs      error = &configError{"missing named arguments"}
	ErrInvalidPipeline  error = &configError{"invalid pipeline definition"}
)

// ProcessorError wraps an error returned by a processor during a run.
type ProcessorError struct {
	Pipeline  string
	Step      int
	Index     int
	Processor string
	Err       error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("pipeline %q step %d processor %d (%s): %v", e.Pipeline, e.Step, e.Index, e.Processor, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }
