//go:build sdk3

package sdk3

import (
	"errors"
	"fmt"

	cwch "github.com/lordadamson/cgo.wchar"

	"github.com/nasa-jpl/pecam/camera"
)

/*
#cgo CFLAGS: -I/usr/local
#cgo LDFLAGS: -L/usr/local/lib -latcore
#include <stdlib.h>
#include <atcore.h>

*/
import "C"

// LengthOfUndefinedBuffers is how many wchars to allocate for a string
// whose length the SDK cannot tell us ahead of time
const LengthOfUndefinedBuffers = 255

var (
	// ErrBufferNotOnQueue is returned by waits before any buffer was queued,
	// which would otherwise corrupt memory inside the SDK
	ErrBufferNotOnQueue = errors.New("sdk3: no buffer placed on queue")

	// ErrCodes maps SDK return codes to their names
	ErrCodes = map[DRVError]string{
		0:   "AT_SUCCESS",
		1:   "AT_ERR_NOT_INITIALISED",
		2:   "AT_ERR_NOT_IMPLEMENTED",
		3:   "AT_ERR_READONLY",
		4:   "AT_ERR_NOT_READABLE",
		5:   "AT_ERR_NOT_WRITABLE",
		6:   "AT_ERR_OUT_OF_RANGE",
		7:   "AT_ERR_INDEX_NOT_AVAILABLE",
		8:   "AT_ERR_INDEX_NOT_IMPLEMENTED",
		9:   "AT_ERR_EXCEEDED_MAX_STRING_LENGTH",
		10:  "AT_ERR_CONNECTION",
		11:  "AT_ERR_NO_DATA",
		12:  "AT_ERR_INVALID_HANDLE",
		13:  "AT_ERR_TIMED_OUT",
		14:  "AT_ERR_BUFFER_FULL",
		15:  "AT_ERR_INVALID_SIZE",
		16:  "AT_ERR_INVALID_ALIGNMENT",
		17:  "AT_ERR_COMM",
		18:  "AT_ERR_STRING_NOT_AVAILABLE",
		19:  "AT_ERR_STRING_NOT_IMPLEMENTED",
		20:  "AT_ERR_NULL_FEATURE",
		21:  "AT_ERR_NULL_HANDLE",
		37:  "AT_ERR_NO_MEMORY",
		38:  "AT_ERR_DEVICE_IN_USE",
		39:  "AT_ERR_DEVICE_NOT_FOUND",
		100: "AT_ERR_HARDWARE_OVERFLOW",
	}
)

// DRVError is an SDK return code
type DRVError int

func (e DRVError) Error() string {
	if s, ok := ErrCodes[e]; ok {
		return fmt.Sprintf("%d - %s", e, s)
	}
	return fmt.Sprintf("%d - UNKNOWN_ERROR_CODE", e)
}

// Is lets timeouts and unimplemented features match the camera package's
// sentinels
func (e DRVError) Is(target error) bool {
	switch target {
	case camera.ErrTimeout:
		return e == 13
	case camera.ErrUnsupported:
		return e == 2 || e == 3 || e == 5 || e == 6 || e == 7 || e == 8
	}
	return false
}

// Error returns nil for AT_SUCCESS and a DRVError otherwise
func Error(code int) error {
	if code == 0 {
		return nil
	}
	return DRVError(code)
}

// enrich prefixes err with the feature or call it came from
func enrich(err error, what string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

// wide converts a feature name for the SDK
func wide(feature string) (*C.AT_WC, error) {
	ws, err := cwch.FromGoString(feature)
	if err != nil {
		return nil, err
	}
	return (*C.AT_WC)(ws.Pointer()), nil
}

// InitializeLibrary calls the function of the same name in the SDK
func InitializeLibrary() error {
	return Error(int(C.AT_InitialiseLibrary()))
}

// FinalizeLibrary calls the function of the same name in the SDK
func FinalizeLibrary() {
	C.AT_FinaliseLibrary()
}

// DeviceCount returns the number of cameras found by the SDK
func DeviceCount() (int, error) {
	return GetInt(int(C.AT_HANDLE_SYSTEM), "DeviceCount")
}

// SetInt sets an integer feature
func SetInt(handle int, feature string, val int64) error {
	f, err := wide(feature)
	if err != nil {
		return err
	}
	return enrich(Error(int(C.AT_SetInt(C.AT_H(handle), f, C.AT_64(val)))), feature)
}

// GetInt gets an integer feature
func GetInt(handle int, feature string) (int, error) {
	f, err := wide(feature)
	if err != nil {
		return 0, err
	}
	var out C.AT_64
	code := int(C.AT_GetInt(C.AT_H(handle), f, &out))
	return int(out), enrich(Error(code), feature)
}

// SetFloat sets a floating point feature
func SetFloat(handle int, feature string, value float64) error {
	f, err := wide(feature)
	if err != nil {
		return err
	}
	return enrich(Error(int(C.AT_SetFloat(C.AT_H(handle), f, C.double(value)))), feature)
}

// GetFloat gets a floating point feature
func GetFloat(handle int, feature string) (float64, error) {
	f, err := wide(feature)
	if err != nil {
		return 0, err
	}
	var out C.double
	code := int(C.AT_GetFloat(C.AT_H(handle), f, &out))
	return float64(out), enrich(Error(code), feature)
}

// SetBool sets a boolean feature
func SetBool(handle int, feature string, b bool) error {
	f, err := wide(feature)
	if err != nil {
		return err
	}
	v := C.AT_BOOL(C.AT_FALSE)
	if b {
		v = C.AT_TRUE
	}
	return enrich(Error(int(C.AT_SetBool(C.AT_H(handle), f, v))), feature)
}

// GetBool gets a boolean feature
func GetBool(handle int, feature string) (bool, error) {
	f, err := wide(feature)
	if err != nil {
		return false, err
	}
	var b C.AT_BOOL
	code := int(C.AT_GetBool(C.AT_H(handle), f, &b))
	return b == C.AT_TRUE, enrich(Error(code), feature)
}

// GetEnumIndex gets the selected index of an enumerated feature
func GetEnumIndex(handle int, feature string) (int, error) {
	f, err := wide(feature)
	if err != nil {
		return 0, err
	}
	var out C.int
	code := int(C.AT_GetEnumIndex(C.AT_H(handle), f, &out))
	return int(out), enrich(Error(code), feature)
}

// SetEnumIndex selects an index of an enumerated feature
func SetEnumIndex(handle int, feature string, idx int) error {
	f, err := wide(feature)
	if err != nil {
		return err
	}
	return enrich(Error(int(C.AT_SetEnumIndex(C.AT_H(handle), f, C.int(idx)))), feature)
}

// SetEnumString selects a member of an enumerated feature by name
func SetEnumString(handle int, feature, value string) error {
	f, err := wide(feature)
	if err != nil {
		return err
	}
	v, err := wide(value)
	if err != nil {
		return err
	}
	return enrich(Error(int(C.AT_SetEnumString(C.AT_H(handle), f, v))), feature)
}

// GetEnumString gets the name of the selected member of an enumerated feature
func GetEnumString(handle int, feature string) (string, error) {
	idx, err := GetEnumIndex(handle, feature)
	if err != nil {
		return "", err
	}
	f, err := wide(feature)
	if err != nil {
		return "", err
	}
	buf := cwch.NewWcharString(LengthOfUndefinedBuffers)
	code := int(C.AT_GetEnumStringByIndex(C.AT_H(handle), f, C.int(idx),
		(*C.AT_WC)(buf.Pointer()), C.int(LengthOfUndefinedBuffers)))
	if err := enrich(Error(code), feature); err != nil {
		return "", err
	}
	return buf.GoString()
}

// IssueCommand sends a command feature to the camera
func IssueCommand(handle int, feature string) error {
	f, err := wide(feature)
	if err != nil {
		return err
	}
	return enrich(Error(int(C.AT_Command(C.AT_H(handle), f))), feature)
}

// Flush removes every queued buffer from the SDK
func Flush(handle int) error {
	return enrich(Error(int(C.AT_Flush(C.AT_H(handle)))), "AT_Flush")
}
