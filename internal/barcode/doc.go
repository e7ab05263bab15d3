// Package barcode wraps the QR/barcode decode primitive used by the check-in
// scanner.
//
// The default backend is gozxing. Callers treat it as a black box: hand it an
// image and get back zero or more decoded symbols, or an error. ErrNotFound
// signals that the image simply held no readable symbol, which the decode
// strategy runner treats as "try the next strategy".
package barcode
