package cryptox

// Wipe overwrites b with zeros. Stream keys are wiped as soon as their file
// is finalized. A nil slice is ignored.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
