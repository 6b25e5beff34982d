package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kolo/xmlrpc"
)

// AuthenticationError: instancja odrzuciła dane logowania albo sesja wygasła.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return "remote authentication failed"
	}
	return "remote authentication failed: " + e.Message
}

// ConnectionError: transport nie działa (DNS, TLS, timeout, zły adres).
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("remote connection (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RemoteError: instancja zwróciła błąd aplikacyjny (fault) dla konkretnego wywołania.
type RemoteError struct {
	Op      string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed (code %d): %s", e.Op, e.Code, e.Message)
}

// kody faultów zwracane przez serwer XML-RPC instancji
const (
	faultApplication  = 1
	faultWarning      = 2
	faultAccessDenied = 3
	faultAccessError  = 4
)

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var fe xmlrpc.FaultError
	if errors.As(err, &fe) {
		msg := firstLine(fe.String)
		if fe.Code == faultAccessDenied || strings.Contains(fe.String, "AccessDenied") || strings.Contains(fe.String, "Session expired") {
			return &AuthenticationError{Message: msg}
		}
		return &RemoteError{Op: op, Code: fe.Code, Message: msg}
	}
	return &ConnectionError{Op: op, Err: err}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

func IsAuthentication(err error) bool {
	var a *AuthenticationError
	return errors.As(err, &a)
}

func IsConnection(err error) bool {
	var c *ConnectionError
	return errors.As(err, &c)
}

func IsRemote(err error) bool {
	var r *RemoteError
	return errors.As(err, &r)
}
