// Package utils provides small byte and string helpers shared by the protocol
// codec and the session layer.
package utils

// JoinBytes concatenates the given byte slices into a single newly allocated
// slice. The inputs are not retained.
//
// Parameters:
//   - s: One or more byte slices to concatenate
//
// Returns:
//   - A new byte slice containing all input slices in order
func JoinBytes(s ...[]byte) []byte {
	n := 0
	for _, v := range s {
		n += len(v)
	}

	b, i := make([]byte, n), 0
	for _, v := range s {
		i += copy(b[i:], v)
	}

	return b
}

// PrependByte returns a new slice holding first followed by rest.
func PrependByte(first byte, rest []byte) []byte {
	b := make([]byte, 1+len(rest))
	b[0] = first
	copy(b[1:], rest)
	return b
}
