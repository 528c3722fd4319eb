package kverror

import (
	"errors"
	"fmt"
)

const (
	KV_OVERLOADED = "KVSO"
	KV_IO_ERROR   = "KVIO"
	KV_TOO_OLD    = "KVTO"
	KV_UNKNOWN    = "KVUN"
	KV_INTERNAL   = "KVIN"
)

var existingErrorCodeMap = map[string]string{
	KV_OVERLOADED: "read admission rejected",
	KV_IO_ERROR:   "engine io failure",
	KV_TOO_OLD:    "read deadline exceeded",
	KV_UNKNOWN:    "unclassified engine failure",
	KV_INTERNAL:   "internal routing failure",
}

func GetMessageByCode(errorCode string) string {
	rep, ok := existingErrorCodeMap[errorCode]
	if ok {
		return rep
	}
	return "Unexpected error"
}

var _ error = &KVError{}

type KVError struct {
	Err error

	ErrorCode string
}

func New(errorCode string, errorMsg string) *KVError {
	err := &KVError{
		Err:       errors.New(errorMsg),
		ErrorCode: errorCode,
	}
	return err
}

func Newf(errorCode string, format string, a ...any) *KVError {
	return &KVError{
		Err:       fmt.Errorf(format, a...),
		ErrorCode: errorCode,
	}
}

// Wrap keeps the original error chain while stamping a taxonomy code on it.
func Wrap(errorCode string, err error) *KVError {
	return &KVError{
		Err:       err,
		ErrorCode: errorCode,
	}
}

func (er *KVError) Error() string {
	return fmt.Sprintf("Code: %s. Name: %s. Description: %s.",
		er.ErrorCode, GetMessageByCode(er.ErrorCode), er.Err)
}

func (er *KVError) Unwrap() error {
	return er.Err
}

// CodeOf reports the taxonomy code carried by err, or KV_UNKNOWN when
// err was never classified.
func CodeOf(err error) string {
	var kve *KVError
	if errors.As(err, &kve) {
		return kve.ErrorCode
	}
	return KV_UNKNOWN
}

func IsCode(err error, errorCode string) bool {
	var kve *KVError
	if errors.As(err, &kve) {
		return kve.ErrorCode == errorCode
	}
	return false
}
