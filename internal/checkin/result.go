package checkin

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Outcome classifies a check-in result by severity.
type Outcome string

const (
	OutcomeProcessing Outcome = "processing"
	OutcomeSuccess    Outcome = "success"
	OutcomeError      Outcome = "error"
	OutcomeWarning    Outcome = "warning"
)

// Operator-facing messages used when the server does not supply one.
const (
	ProcessingMessage     = "Processing check-in..."
	DefaultSuccessMessage = "Check-in successful."
	DefaultErrorMessage   = "Check-in failed."
	UnreachableMessage    = "Could not reach the check-in server. Please try again."
	EmptyPayloadMessage   = "The scanned code is empty."
	MissingEventMessage   = "No event selected for check-in."
)

// VolunteerInfo is the subject returned by the check-in backend.
type VolunteerInfo struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"nama,omitempty"`
	Photo string `json:"foto,omitempty"`
	Email string `json:"email,omitempty"`
}

// EventInfo describes the event a check-in was recorded against.
type EventInfo struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"nama,omitempty"`
}

// Result is what the operator sees after a scan. It is never persisted.
type Result struct {
	Outcome       Outcome        `json:"outcome"`
	Message       string         `json:"message"`
	Volunteer     *VolunteerInfo `json:"volunteer,omitempty"`
	Event         *EventInfo     `json:"event,omitempty"`
	Detail        string         `json:"detail,omitempty"`
	CurrentStatus string         `json:"currentStatus,omitempty"`
	// Strategy names the decode strategy that produced the payload, for file scans.
	Strategy string `json:"strategy,omitempty"`
}

// Processing is the placeholder shown while a payload is in flight.
func Processing() Result {
	return Result{Outcome: OutcomeProcessing, Message: ProcessingMessage}
}

// Warning builds a warning result with the given message.
func Warning(msg string) Result {
	return Result{Outcome: OutcomeWarning, Message: displayText(msg)}
}

// Failure builds an error result with the given message and detail.
func Failure(msg, detail string) Result {
	return Result{Outcome: OutcomeError, Message: displayText(msg), Detail: displayText(detail)}
}

// IsTerminal reports whether the result ends a processing cycle.
func (r Result) IsTerminal() bool {
	return r.Outcome != OutcomeProcessing
}

// SubjectName returns the volunteer name, if any.
func (r Result) SubjectName() string {
	if r.Volunteer == nil {
		return ""
	}
	return r.Volunteer.Name
}

var titleCaser = cases.Title(language.Und)

// StatusLabel turns a backend status code such as "already_attended" into
// "Already Attended".
func StatusLabel(status string) string {
	status = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(status))
	if status == "" {
		return ""
	}
	return titleCaser.String(norm.NFC.String(status))
}

// statusDetail renders the details line shown for duplicate or invalid check-ins.
func statusDetail(status string) string {
	label := StatusLabel(status)
	if label == "" {
		return ""
	}
	return "Current status: " + label
}

func displayText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
