package core

import "time"

// EventType names a verification or session outcome
type EventType string

const (
	EventChallengeIssued    EventType = "challenge.issued"
	EventChallengeDenied    EventType = "challenge.denied"
	EventChallengeVerified  EventType = "challenge.verified"
	EventChallengeRejected  EventType = "challenge.rejected"
	EventAccountRegistered  EventType = "account.registered"
	EventPasswordReset      EventType = "account.password_reset"
	EventSessionIssued      EventType = "session.issued"
	EventSessionRefreshed   EventType = "session.refreshed"
	EventSessionRefreshFail EventType = "session.refresh_failed"
)

// Event is published for every outcome so other services can react without polling
type Event struct {
	Type       EventType `json:"type"`
	Identity   string    `json:"identity,omitempty"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Purpose    Purpose   `json:"purpose,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
