package et

import "unsafe"

// maxCStringLen caps how far CstringToGo scans for a terminator.
const maxCStringLen = 1 << 20

// CstringToGo copies a NUL-terminated C string into a Go string.
// A null pointer, or an address in the first page, yields "".
func CstringToGo(ptr uintptr) string {
	if ptr < 4096 {
		return ""
	}
	// #nosec G103 -- reading engine-owned memory up to its NUL terminator.
	bytes := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), maxCStringLen)
	for i := range bytes {
		if bytes[i] == 0 {
			return string(bytes[:i])
		}
	}
	return string(bytes)
}

// GoToCstring returns a NUL-terminated copy of s and a pointer to its first byte.
// The caller must keep the returned slice alive while C may read it.
func GoToCstring(s string) ([]byte, uintptr) {
	b := append([]byte(s), 0)
	return b, uintptr(unsafe.Pointer(&b[0]))
}
