package testsupport

// Audio returns n deterministic bytes. Adjacent offsets differ, so a wrong
// range slice is visible in comparisons.
func Audio(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}
