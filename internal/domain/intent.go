package domain

import "time"

// Direction is the action requested by the upstream signal engine.
type Direction string

const (
	OpenLong   Direction = "OPEN_LONG"
	OpenShort  Direction = "OPEN_SHORT"
	CloseLong  Direction = "CLOSE_LONG"
	CloseShort Direction = "CLOSE_SHORT"
)

// IsOpen reports whether the direction opens new exposure.
func (d Direction) IsOpen() bool {
	return d == OpenLong || d == OpenShort
}

// Side returns the position side the direction acts on ("LONG" or "SHORT").
func (d Direction) Side() string {
	if d == OpenLong || d == CloseLong {
		return "LONG"
	}
	return "SHORT"
}

// Opposite returns the direction that opens the other side.
func (d Direction) Opposite() Direction {
	if d.Side() == "LONG" {
		return OpenShort
	}
	return OpenLong
}

// TradingIntent is an immutable instruction produced upstream. Confidence is
// always normalized to 0-100 before it reaches the executor.
type TradingIntent struct {
	Symbol         string    `json:"symbol"`
	Direction      Direction `json:"direction"`
	Confidence     float64   `json:"confidence"`
	ReferencePrice float64   `json:"referencePrice"`
	SourceID       string    `json:"sourceId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ExecutionStatus classifies what happened to an intent.
type ExecutionStatus string

const (
	ExecutionExecuted ExecutionStatus = "executed"
	ExecutionSkipped  ExecutionStatus = "skipped"
	ExecutionFailed   ExecutionStatus = "failed"
)

// ExecutionOutcome is what the executor returns for one intent attempt.
// ClosedRecord is set only when a flip closed the opposing side first.
type ExecutionOutcome struct {
	Status       ExecutionStatus `json:"status"`
	Reason       string          `json:"reason"`
	Record       *TradeRecord    `json:"record,omitempty"`
	ClosedRecord *TradeRecord    `json:"closedRecord,omitempty"`
}

// RiskAction is the verdict of a single risk check or of the aggregate gate.
type RiskAction string

const (
	RiskPass      RiskAction = "PASS"
	RiskHold      RiskAction = "HOLD"
	RiskDowngrade RiskAction = "DOWNGRADE"
)

// RiskDecision is transient; its reason travels into the resulting
// TradeRecord so skips stay auditable.
type RiskDecision struct {
	Action              RiskAction `json:"action"`
	Reason              string     `json:"reason"`
	ConfidenceReduction float64    `json:"confidenceReduction"`
}
