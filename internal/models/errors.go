package models

import "errors"

var (
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrInvalidToken      = errors.New("invalid instrument token")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrInvalidRuleID     = errors.New("invalid rule ID")
	ErrNoLimits          = errors.New("rule must set at least one limit price")
	ErrLimitsCrossed     = errors.New("lower limit must be below upper limit")
	ErrInvalidLimit      = errors.New("limit price must be positive")
	ErrInvalidPosition   = errors.New("position is missing required fields")
	ErrRuleNotFound      = errors.New("rule not found")
	ErrRuleAlreadyExists = errors.New("rule already exists")
)
