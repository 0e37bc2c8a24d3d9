package iec61850

// Version of the mapping engine reported by the CLI and examples.
const Version = "1.6.0-go"

// GetVersionString returns the version string of this library.
func GetVersionString() string {
	return Version
}

func IsBitSet(val int, pos int) bool {
	return (val & (1 << pos)) != 0
}
