// Package iohelper provides helpers for reading HTTP response bodies
// without letting a hostile target exhaust memory.
package iohelper

import (
	"io"
)

// drainLimit bounds how much is discarded before closing a body so a
// huge response cannot stall connection reuse.
const drainLimit = 64 * 1024

// ReadLimited reads at most maxSize bytes from r. truncated reports whether
// r had more data than maxSize. A nil reader yields an empty body.
// maxSize <= 0 means no limit.
//
// Usage:
//
//	body, truncated, err := iohelper.ReadLimited(resp.Body, 5<<20)
func ReadLimited(r io.Reader, maxSize int64) (body []byte, truncated bool, err error) {
	if r == nil {
		return []byte{}, false, nil
	}
	if maxSize <= 0 {
		body, err = io.ReadAll(r)
		return body, false, err
	}
	// One extra byte tells "exactly maxSize" apart from "more than maxSize".
	body, err = io.ReadAll(io.LimitReader(r, maxSize+1))
	if int64(len(body)) > maxSize {
		return body[:maxSize], true, err
	}
	return body, false, err
}

// DrainAndClose discards a bounded amount of remaining data from r and
// closes it if it's a ReadCloser, so the connection can be reused.
// Always returns nil to allow use in defer.
func DrainAndClose(r io.Reader) error {
	if r == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, drainLimit))
	if rc, ok := r.(io.ReadCloser); ok {
		rc.Close()
	}
	return nil
}
