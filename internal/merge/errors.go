package merge

import "fmt"

// ContinuityBrokenError means a trade ID between the historical window and the
// live stream is missing. It is fatal for the product and never retried.
type ContinuityBrokenError struct {
	ProductID string
	Expected  int64
	Got       int64
	Reason    string
}

func (e *ContinuityBrokenError) Error() string {
	return fmt.Sprintf("continuity broken for %s: expected trade %d, got %d (%s)", e.ProductID, e.Expected, e.Got, e.Reason)
}

// HistoryLagError means the REST trade window never reached the buffered live
// trades within the fetch budget.
type HistoryLagError struct {
	ProductID  string
	Attempts   int
	NewestREST int64
	OldestLive int64
	Err        error
}

func (e *HistoryLagError) Error() string {
	msg := fmt.Sprintf("rest trades for %s still behind live feed after %d attempts (newest rest %d, oldest live %d)",
		e.ProductID, e.Attempts, e.NewestREST, e.OldestLive)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HistoryLagError) Unwrap() error { return e.Err }

// CheckContinuity passes only when firstLiveID directly follows lastHistoricalID.
func CheckContinuity(lastHistoricalID, firstLiveID int64) error {
	if firstLiveID == lastHistoricalID+1 {
		return nil
	}
	return &ContinuityBrokenError{
		Expected: lastHistoricalID + 1,
		Got:      firstLiveID,
		Reason:   "first live trade does not follow history",
	}
}
