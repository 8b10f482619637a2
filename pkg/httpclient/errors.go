package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
)

// Sentinel errors for client failure modes. http.Client wraps them in
// *url.Error; errors.Is sees through that.
var (
	// ErrTooManyRedirects indicates the redirect chain exceeded MaxRedirects.
	ErrTooManyRedirects = errors.New("httpclient: too many redirects")

	// ErrRedirectLoop indicates a redirect back to a URL already visited.
	ErrRedirectLoop = errors.New("httpclient: redirect loop")

	// ErrDialGuard indicates the dial-time address check refused the
	// connection, e.g. a redirect or DNS answer pointing at an internal host.
	ErrDialGuard = errors.New("httpclient: address refused by dial guard")

	// ErrProxy indicates an unusable proxy configuration.
	ErrProxy = errors.New("httpclient: invalid proxy")

	// ErrTLS indicates a TLS handshake or certificate verification failure.
	ErrTLS = errors.New("httpclient: TLS handshake failed")
)

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsTLS reports whether err came from certificate verification or the
// TLS handshake.
func IsTLS(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTLS) {
		return true
	}
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		recordHeader     tls.RecordHeaderError
		verification     *tls.CertificateVerificationError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid) ||
		errors.As(err, &recordHeader) ||
		errors.As(err, &verification)
}
