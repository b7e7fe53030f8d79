// Package errs implements the closed error taxonomy shared by every
// backalpha component. Every fatal or user-surfaced condition is
// constructed here so callers can branch on Kind instead of matching
// strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one category from the closed error taxonomy.
type Kind int

const (
	Unknown Kind = iota
	AssetNotFound
	SymbolNotFound
	InvalidOrder
	BadOrderParameters
	OrderDuringInitialize
	OrderInBeforeTradingStart
	SetSlippagePostInit
	SetCommissionPostInit
	SetCancelPolicyPostInit
	AttachPipelineAfterInitialize
	DuplicatePipelineName
	RegisterTradingControlPostInit
	DataNotFound
	NoTradeDataAvailable
	PricingDataNotLoaded
	UnsupportedFrequency
	HistoryWindowBeforeFirstData
	InsufficientFunds
	LiquidityExceeded
	AssetRestricted
	TradingBeforeStart
	InvalidData
	CalendarError
	InvalidFrequency
	// Invariant marks an assertion-class bug: a cycle in the pipeline
	// graph, a sell beyond position size, a ledger imbalance. These are
	// not supposed to be reachable through normal user error.
	Invariant
)

var kindNames = map[Kind]string{
	Unknown:                         "unknown",
	AssetNotFound:                   "asset_not_found",
	SymbolNotFound:                  "symbol_not_found",
	InvalidOrder:                    "invalid_order",
	BadOrderParameters:              "bad_order_parameters",
	OrderDuringInitialize:           "order_during_initialize",
	OrderInBeforeTradingStart:       "order_in_before_trading_start",
	SetSlippagePostInit:             "set_slippage_post_init",
	SetCommissionPostInit:           "set_commission_post_init",
	SetCancelPolicyPostInit:         "set_cancel_policy_post_init",
	AttachPipelineAfterInitialize:   "attach_pipeline_after_initialize",
	DuplicatePipelineName:           "duplicate_pipeline_name",
	RegisterTradingControlPostInit:  "register_trading_control_post_init",
	DataNotFound:                    "data_not_found",
	NoTradeDataAvailable:            "no_trade_data_available",
	PricingDataNotLoaded:            "pricing_data_not_loaded",
	UnsupportedFrequency:            "unsupported_frequency",
	HistoryWindowBeforeFirstData:    "history_window_before_first_data",
	InsufficientFunds:               "insufficient_funds",
	LiquidityExceeded:               "liquidity_exceeded",
	AssetRestricted:                 "asset_restricted",
	TradingBeforeStart:              "trading_before_start",
	InvalidData:                     "invalid_data",
	CalendarError:                   "calendar_error",
	InvalidFrequency:                "invalid_frequency",
	Invariant:                       "invariant",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the concrete error type every backalpha package returns.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around a cause, preserving it
// for errors.Is/errors.As and unwrapping.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
