package conn

import (
	"fmt"
	"strings"
)

// AggregateError collects every failure observed during one teardown, in the
// order they were observed.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d errors occurred:", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, " [%d] %v;", i+1, err)
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Unwrap lets errors.Is and errors.As look through every collected error.
func (e *AggregateError) Unwrap() []error { return e.Errors }

// Aggregate folds errs into one error: nil for none, the error itself for
// one, an *AggregateError otherwise. Nil entries are skipped.
func Aggregate(errs []error) error {
	kept := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}

	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &AggregateError{Errors: kept}
	}
}
