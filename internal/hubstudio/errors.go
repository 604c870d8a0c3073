package hubstudio

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrConnection = errors.New("hubstudio: connection failed")
	ErrTimeout    = errors.New("hubstudio: request timed out")
	ErrProtocol   = errors.New("hubstudio: protocol error")
)

// Error 所有网关失败都包装成它，调用方用 errors.Is 区分三类。
type Error struct {
	Op   string
	Kind error
	Code int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Code != 0:
		return fmt.Sprintf("%s: %v (code=%d, msg=%s)", e.Op, e.Kind, e.Code, e.Msg)
	case e.Msg != "":
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func transportError(op string, err error) *Error {
	kind := ErrConnection
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = ErrTimeout
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

func protocolError(op string, code int, msg string) *Error {
	return &Error{Op: op, Kind: ErrProtocol, Code: code, Msg: msg}
}
