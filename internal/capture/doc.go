// Package capture owns the lifecycle of a live camera stream.
//
// A Controller opens a Device, waits for the stream to report readiness,
// decodes frames inside a bounded detection region and reports every
// decoded payload through a single callback. It never deduplicates; the
// scan session decides what to do with each payload.
//
// Lifecycle: Uninitialized -> Starting -> Active -> Stopping -> Released.
// Start is a no-op while Starting or Active. Stop is idempotent, never
// returns an error and does not wait for the hardware to let go.
package capture
