package security

import "crypto/rand"

// WipeBytes overwrites a byte slice with random data and then zeros so a
// credential does not linger in memory after use.
func WipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	rand.Read(data)
	for i := range data {
		data[i] = 0
	}
}
