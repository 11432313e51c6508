// Package apperr 定义投票核心对外暴露的错误类型。
package apperr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

type Kind int

const (
	Unknown Kind = iota
	Unauthenticated
	InvalidCredential
	NotFound
	RoundClosed
	DuplicateVote
	PersistenceFailure
	IssuanceFailure
	InvalidInput
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case InvalidCredential:
		return "invalid_credential"
	case NotFound:
		return "not_found"
	case RoundClosed:
		return "round_closed"
	case DuplicateVote:
		return "duplicate_vote"
	case PersistenceFailure:
		return "persistence_failure"
	case IssuanceFailure:
		return "issuance_failure"
	case InvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error 带类型的业务错误
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E 构造错误，err 会附带调用栈
func E(kind Kind, op string, err error) error {
	if err != nil {
		err = pkgerrors.WithStack(err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// New 构造不带底层错误的业务错误
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// KindOf 返回错误链上第一个 *Error 的类型
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
