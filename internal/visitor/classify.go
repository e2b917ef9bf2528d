package visitor

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// Symbolic transport failure codes recorded when no response was received.
const (
	CodeNotFound    = "ENOTFOUND"
	CodeDNSFailure  = "EAI_AGAIN"
	CodeRefused     = "ECONNREFUSED"
	CodeTimedOut    = "ETIMEDOUT"
	CodeReset       = "ECONNRESET"
	CodeHostUnreach = "EHOSTUNREACH"
	CodeNetUnreach  = "ENETUNREACH"
	CodeAborted     = "ECONNABORTED"
	CodeBrokenPipe  = "EPIPE"
	CodeProtocol    = "EPROTO"
	CodeInvalidURL  = "ERR_INVALID_URL"
	CodeCanceled    = "ERR_CANCELED"
	CodeUnknown     = "UNKNOWN"
)

// Classify maps a request error to a symbolic code.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return CodeNotFound
		case dnsErr.IsTimeout:
			return CodeTimedOut
		default:
			return CodeDNSFailure
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return CodeTimedOut
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeReset
	case errors.Is(err, syscall.EHOSTUNREACH):
		return CodeHostUnreach
	case errors.Is(err, syscall.ENETUNREACH):
		return CodeNetUnreach
	case errors.Is(err, syscall.ECONNABORTED):
		return CodeAborted
	case errors.Is(err, syscall.EPIPE):
		return CodeBrokenPipe
	}

	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return CodeProtocol
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && (urlErr.Op == "parse" || strings.Contains(urlErr.Err.Error(), "unsupported protocol scheme")) {
		return CodeInvalidURL
	}
	return CodeUnknown
}
