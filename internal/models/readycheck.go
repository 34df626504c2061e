package models

import "time"

type ReadyCheckStatus string

const (
	ReadyCheckStatusInitiated  ReadyCheckStatus = "INITIATED"
	ReadyCheckStatusInProgress ReadyCheckStatus = "IN_PROGRESS"
	ReadyCheckStatusSucceeded  ReadyCheckStatus = "SUCCEEDED"
	ReadyCheckStatusFailed     ReadyCheckStatus = "FAILED"
	ReadyCheckStatusExpired    ReadyCheckStatus = "EXPIRED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ReadyCheckStatus) IsTerminal() bool {
	switch s {
	case ReadyCheckStatusSucceeded, ReadyCheckStatusFailed, ReadyCheckStatusExpired:
		return true
	}
	return false
}

type ReadyResponse string

const (
	ReadyResponseAccept     ReadyResponse = "accept"
	ReadyResponseDecline    ReadyResponse = "decline"
	ReadyResponseNoResponse ReadyResponse = "no-response"
)

// ReadyCheckState is the wire shape of a ready check. The participant set is
// frozen for the lifetime of the check.
type ReadyCheckState struct {
	ID          string                   `json:"readyCheckId"`
	MatchID     string                   `json:"matchId"`
	Status      ReadyCheckStatus         `json:"status"`
	InitiatedBy string                   `json:"initiatedBy"`
	ExpiresAt   time.Time                `json:"expiresAt"`
	Responses   map[string]ReadyResponse `json:"responses"` // ticket id -> response
}
