package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownCategory   = errors.New("unknown category")
	ErrUnknownEntry      = errors.New("unknown entry")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance would overflow")
	ErrDuplicateCategory = errors.New("category already exists")
	// ErrRemoteWriteFailed is a clean failure: nothing was written.
	ErrRemoteWriteFailed = errors.New("remote write failed")
	// ErrPartialFailure means earlier steps of a multi-step mutation were
	// written and a later one was not, so local and remote state may differ.
	ErrPartialFailure = errors.New("partial failure")
	ErrNoObjectStore  = errors.New("no object store configured")
)

// Step names one remote write of a multi-step mutation.
type Step string

const (
	StepInsertCategory Step = "insert category"
	StepInsertBalance  Step = "insert balance"
	StepInsertEntry    Step = "insert entry"
	StepUpdateBalance  Step = "update balance"
	StepDeleteEntries  Step = "delete entries"
	StepDeleteBalance  Step = "delete balance"
	StepDeleteCategory Step = "delete category"
	StepStoreReceipt   Step = "store receipt"
	StepLinkReceipt    Step = "link receipt"
)

// PartialFailureError reports which steps of Op were written before Failed
// went wrong. It matches ErrPartialFailure and the underlying cause.
type PartialFailureError struct {
	Op        string
	Completed []Step
	Failed    Step
	Err       error
}

func (e *PartialFailureError) Error() string {
	done := make([]string, len(e.Completed))
	for i, s := range e.Completed {
		done[i] = string(s)
	}
	return fmt.Sprintf("%s: partial failure: %s failed after %s: %v",
		e.Op, e.Failed, strings.Join(done, ", "), e.Err)
}

func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialFailure, e.Err}
}
