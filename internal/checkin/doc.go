// Package checkin submits scanned payloads to the volunteer check-in backend
// and reconciles the response into a Result an operator can read.
//
// The backend accepts {"eventId", "scanPayload"} and answers either
// {message, data: {volunteerInfo, eventInfo}} with a 2xx status or
// {message, volunteerInfo?, currentStatus?} with an error status. Rejections
// become OutcomeError results that keep the server's message and status so
// the operator sees why, for example a duplicate check-in. Network failures
// and server errors become OutcomeWarning results with a generic message.
package checkin
