package wireformat

import "github.com/golang/snappy"

// Compress always encodes b with snappy. Callers that store the result
// mark it with FlagCompressed (flags bit 0).
func Compress(b []byte) []byte {
	return snappy.Encode(nil, b)
}

// Decompress reverses Compress.
func Decompress(b []byte) ([]byte, error) {
	return snappy.Decode(nil, b)
}
