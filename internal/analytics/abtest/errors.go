package abtest

import "errors"

var (
	// ErrInvalidGroupColumn is returned when a grouping column is not part
	// of the table schema, names the cohort column or repeats.
	ErrInvalidGroupColumn = errors.New("abtest: invalid group column")
	// ErrDegenerateGroup is returned when a group has no orders or no
	// customers, which leaves TKM or ARPU undefined.
	ErrDegenerateGroup = errors.New("abtest: degenerate group")
	// ErrEmptyInput is returned when a quantile-dependent aggregation runs
	// over an empty filtered row set.
	ErrEmptyInput = errors.New("abtest: empty input")
)
