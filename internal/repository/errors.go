package repository

import (
	"errors"
	"fmt"
)

var (
	ErrTradeNotFound  = errors.New("trade not found")
	ErrTradeClosed    = errors.New("trade already closed")
	ErrTradeNotFilled = errors.New("trade was not filled")
)

// checkClosable reports why a ledger row cannot take a realized P&L. A
// failed order opened no position, so it has no outcome to record.
func checkClosable(tradeID string, closed, success bool) error {
	switch {
	case closed:
		return fmt.Errorf("close trade %s: %w", tradeID, ErrTradeClosed)
	case !success:
		return fmt.Errorf("close trade %s: %w", tradeID, ErrTradeNotFilled)
	}
	return nil
}
