package linkmeta

import "fmt"

// StatusError reports a non-2xx HTTP response. The pipeline inspects the
// code to decide between rate-limit penalties and plain failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Code)
}
