package filemon

import "fmt"

// ObservationError reports that a watch could not be established.
type ObservationError struct {
	Op   string
	Path string
	Err  error
}

func (e *ObservationError) Error() string {
	return fmt.Sprintf("file monitor %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ObservationError) Unwrap() error {
	return e.Err
}
