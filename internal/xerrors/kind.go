package xerrors

import (
	"errors"
	"fmt"
)

// Pipeline error kinds. Match them with errors.Is.
var (
	ErrRead         = errors.New("read error")
	ErrEval         = errors.New("eval error")
	ErrConfigFormat = errors.New("config format error")
	ErrHash         = errors.New("hash error")
	ErrRender       = errors.New("render error")
)

// kinded classifies an error without changing how it prints.
type kinded struct {
	kind error
	err  error
	msg  string
	pc   uintptr
}

func (k *kinded) Error() string {
	if k.err == nil {
		return k.msg
	}
	return k.msg + ": " + k.err.Error()
}

func (k *kinded) Unwrap() []error {
	if k.err == nil {
		return []error{k.kind}
	}
	return []error{k.kind, k.err}
}

func (k *kinded) PC() uintptr       { return k.pc }
func (k *kinded) IsXerrorsWrapper() {}

// Kind wraps err with msg and marks it as kind. A nil err yields an error
// carrying only msg and the kind.
func Kind(kind error, err error, msg string) error {
	return &kinded{kind: kind, err: err, msg: msg, pc: callerPC(1)}
}

// Kindf is Kind with a formatted message.
func Kindf(kind error, err error, format string, args ...any) error {
	return &kinded{kind: kind, err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// KindOf returns the first pipeline kind found in err's chain, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrRead, ErrEval, ErrConfigFormat, ErrHash, ErrRender} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
