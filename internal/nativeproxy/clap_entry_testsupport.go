package nativeproxy

// #include <stdlib.h>
import "C"

import (
	"testing"
	"unsafe"
)

// cString is test-only support code. It must live outside a _test.go file
// because cgo's "import C" is not supported directly inside Go test files.
func cString(t *testing.T, s string) *C.char {
	t.Helper()
	cs := C.CString(s)
	t.Cleanup(func() { C.free(unsafe.Pointer(cs)) })
	return cs
}
