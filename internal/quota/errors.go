package quota

import "fmt"

// LimitError reports a rejected admission. It carries the values the 429
// response must include.
type LimitError struct {
	Remaining int
	Limit     int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily query limit of %d reached", e.Limit)
}
