// Package errs is the failure taxonomy of the decision pipeline. Every
// failure maps to one Kind; none of them are fatal to the process.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why a decision ended without a successful order.
type Kind string

const (
	KindDataInsufficient  Kind = "data_insufficient"
	KindRiskRejected      Kind = "risk_rejected"
	KindSizingUnavailable Kind = "sizing_unavailable"
	KindGuardBlocked      Kind = "guard_blocked"
	KindBrokerError       Kind = "broker_error"
	KindPersistence       Kind = "persistence_error"
)

var (
	ErrDataInsufficient  = errors.New("data insufficient")
	ErrRiskRejected      = errors.New("risk rejected")
	ErrSizingUnavailable = errors.New("sizing unavailable")
	ErrGuardBlocked      = errors.New("guard blocked")
	ErrBrokerError       = errors.New("broker error")
	ErrPersistence       = errors.New("persistence error")
)

var sentinels = map[Kind]error{
	KindDataInsufficient:  ErrDataInsufficient,
	KindRiskRejected:      ErrRiskRejected,
	KindSizingUnavailable: ErrSizingUnavailable,
	KindGuardBlocked:      ErrGuardBlocked,
	KindBrokerError:       ErrBrokerError,
	KindPersistence:       ErrPersistence,
}

// DecisionError carries the kind, a short human reason and an optional cause.
type DecisionError struct {
	Kind   Kind
	Reason string
	Err    error
}

func New(kind Kind, reason string) *DecisionError {
	return &DecisionError{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *DecisionError {
	return &DecisionError{Kind: kind, Reason: reason, Err: err}
}

func (e *DecisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *DecisionError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind, so errors.Is(err, ErrGuardBlocked) works.
func (e *DecisionError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf extracts the kind from err, or "" if it is not a DecisionError.
func KindOf(err error) Kind {
	var de *DecisionError
	if errors.As(err, &de) {
		return de.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return ""
}
