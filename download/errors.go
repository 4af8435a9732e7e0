// download/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package download

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"cloud.google.com/go/storage"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"google.golang.org/api/googleapi"
)

// ErrorKind classifies transport failures so that they can be reported
// with a message the user can act on.
type ErrorKind int

const (
	UnknownNetworkError ErrorKind = iota
	ConnectionRefused
	RemoteHostClosed
	HostNotFound
	Timeout
	OperationCanceled
	SSLHandshakeFailed
	TemporaryNetworkFailure
	TooManyRedirects
	InsecureRedirect
	ProxyConnectionRefused
	ProxyNotFound
	ProxyTimeout
	ProxyAuthenticationRequired
	ContentAccessDenied
	ContentNotFound
	AuthenticationRequired
	ContentConflict
	ContentGone
	InternalServerError
	OperationNotImplemented
	ServiceUnavailable
	ProtocolUnknown
	ProtocolInvalidOperation
	ProtocolFailure
	UnknownContentError
	UnknownServerError
	NumErrorKinds
)

var errorKindMessages = [NumErrorKinds]string{
	UnknownNetworkError:         "an unknown network-related error was detected",
	ConnectionRefused:           "the remote server refused the connection (the server is not accepting requests)",
	RemoteHostClosed:            "the remote server closed the connection prematurely, before the entire reply was received and processed",
	HostNotFound:                "the remote host name was not found (invalid hostname)",
	Timeout:                     "the connection to the remote server timed out",
	OperationCanceled:           "the operation was canceled before it was finished",
	SSLHandshakeFailed:          "the SSL/TLS handshake failed and the encrypted channel could not be established",
	TemporaryNetworkFailure:     "the connection was broken due to disconnection from the network",
	TooManyRedirects:            "while following redirects, the maximum limit was reached",
	InsecureRedirect:            "while following redirects, a redirect from an encrypted protocol (https) to an unencrypted one (http) was detected",
	ProxyConnectionRefused:      "the connection to the proxy server was refused (the proxy server is not accepting requests)",
	ProxyNotFound:               "the proxy host name was not found (invalid proxy hostname)",
	ProxyTimeout:                "the connection to the proxy timed out or the proxy did not reply in time to the request sent",
	ProxyAuthenticationRequired: "the proxy requires authentication in order to honour the request but did not accept any credentials offered",
	ContentAccessDenied:         "the access to the remote content was denied (similar to HTTP error 403)",
	ContentNotFound:             "the remote content was not found at the server (similar to HTTP error 404)",
	AuthenticationRequired:      "the remote server requires authentication to serve the content but the credentials provided were not accepted",
	ContentConflict:             "the request could not be completed due to a conflict with the current state of the resource",
	ContentGone:                 "the requested resource is no longer available at the server",
	InternalServerError:         "the server encountered an unexpected condition which prevented it from fulfilling the request",
	OperationNotImplemented:     "the server does not support the functionality required to fulfill the request",
	ServiceUnavailable:          "the server is unable to handle the request at this time",
	ProtocolUnknown:             "the request cannot be honored because the protocol is not known",
	ProtocolInvalidOperation:    "the requested operation is invalid for this protocol",
	ProtocolFailure:             "a breakdown in protocol was detected (parsing error, invalid or unexpected responses, etc.)",
	UnknownContentError:         "an unknown error related to the remote content was detected",
	UnknownServerError:          "an unknown error related to the server response was detected",
}

func (k ErrorKind) Message() string {
	if k < 0 || k >= NumErrorKinds {
		return "unknown"
	}
	return errorKindMessages[k]
}

func (k ErrorKind) String() string {
	return []string{"UnknownNetworkError", "ConnectionRefused", "RemoteHostClosed", "HostNotFound",
		"Timeout", "OperationCanceled", "SSLHandshakeFailed", "TemporaryNetworkFailure",
		"TooManyRedirects", "InsecureRedirect", "ProxyConnectionRefused", "ProxyNotFound",
		"ProxyTimeout", "ProxyAuthenticationRequired", "ContentAccessDenied", "ContentNotFound",
		"AuthenticationRequired", "ContentConflict", "ContentGone", "InternalServerError",
		"OperationNotImplemented", "ServiceUnavailable", "ProtocolUnknown", "ProtocolInvalidOperation",
		"ProtocolFailure", "UnknownContentError", "UnknownServerError"}[k]
}

// Error is a failed transfer: the classification together with the
// underlying error.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.URL + ": " + e.Kind.Message()
	}
	return fmt.Sprintf("%s: %s (%v)", e.URL, e.Kind.Message(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrDownloadRunning is returned by Downloadable.Download when another
// download of the same file is in progress.
var ErrDownloadRunning = errors.New("download already in progress")

var (
	errTooManyRedirects = errors.New("stopped after too many redirects")
	errInsecureRedirect = errors.New("redirect from https to http")
)

// checkRedirect is installed in the HTTP client used for downloads so
// that the two redirect failures can be told apart.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errTooManyRedirects
	}
	if len(via) > 0 && via[len(via)-1].URL.Scheme == "https" && req.URL.Scheme == "http" {
		return errInsecureRedirect
	}
	return nil
}

// StatusKind maps an HTTP status code to an ErrorKind; ok is false for
// success codes.
func StatusKind(code int) (kind ErrorKind, ok bool) {
	switch {
	case code < 400:
		return 0, false
	case code == http.StatusUnauthorized:
		return AuthenticationRequired, true
	case code == http.StatusForbidden:
		return ContentAccessDenied, true
	case code == http.StatusNotFound:
		return ContentNotFound, true
	case code == http.StatusMethodNotAllowed:
		return ProtocolInvalidOperation, true
	case code == http.StatusProxyAuthRequired:
		return ProxyAuthenticationRequired, true
	case code == http.StatusConflict:
		return ContentConflict, true
	case code == http.StatusGone:
		return ContentGone, true
	case code == http.StatusInternalServerError:
		return InternalServerError, true
	case code == http.StatusNotImplemented:
		return OperationNotImplemented, true
	case code == http.StatusServiceUnavailable:
		return ServiceUnavailable, true
	case code < 500:
		return UnknownContentError, true
	default:
		return UnknownServerError, true
	}
}

// Classify returns the ErrorKind that best describes err. Errors that are
// already an *Error keep their kind.
func Classify(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return OperationCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, errTooManyRedirects):
		return TooManyRedirects
	case errors.Is(err, errInsecureRedirect):
		return InsecureRedirect
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		return ContentNotFound
	case errors.Is(err, syscall.ECONNREFUSED):
		return connectionKind(err, ConnectionRefused, ProxyConnectionRefused)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF):
		return RemoteHostClosed
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETDOWN):
		return TemporaryNetworkFailure
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if k, ok := StatusKind(gerr.Code); ok {
			return k
		}
	}
	var aerr *awshttp.ResponseError
	if errors.As(err, &aerr) {
		if k, ok := StatusKind(aerr.HTTPStatusCode()); ok {
			return k
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return Timeout
		}
		return connectionKind(err, HostNotFound, ProxyNotFound)
	}

	var (
		recordErr  tls.RecordHeaderError
		certErr    *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	if errors.As(err, &recordErr) || errors.As(err, &certErr) || errors.As(err, &unknownCA) ||
		errors.As(err, &hostErr) || errors.As(err, &invalidErr) ||
		strings.Contains(err.Error(), "tls: ") {
		return SSLHandshakeFailed
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return connectionKind(err, Timeout, ProxyTimeout)
	}

	var uerr *url.Error
	if errors.As(err, &uerr) && strings.Contains(uerr.Err.Error(), "unsupported protocol scheme") {
		return ProtocolUnknown
	}
	if strings.Contains(err.Error(), "malformed HTTP") {
		return ProtocolFailure
	}

	return UnknownNetworkError
}

// connectionKind distinguishes failures talking to a proxy from failures
// talking to the server itself.
func connectionKind(err error, direct, proxy ErrorKind) ErrorKind {
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "proxyconnect" {
		return proxy
	}
	return direct
}

func newError(rawURL string, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: Classify(err), URL: rawURL, Err: err}
}
