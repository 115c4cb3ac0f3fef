package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// Short returns the first 12 hex characters, enough to tell runs apart in logs.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// SpecHash fingerprints the specification a run was built from, so two runs
// can be compared without storing the specification itself.
type SpecHash Hash

func (h SpecHash) String() string { return Hash(h).String() }

// ComputeSpecHash hashes variable rows and output names in declaration order.
// Order matters: the same rows in a different order produce different batches.
func ComputeSpecHash(variables [][5]string, outputs []string) SpecHash {
	var data strings.Builder
	for _, row := range variables {
		data.WriteString("v")
		for _, field := range row {
			data.WriteString(strconv.Quote(field))
		}
		data.WriteByte('\n')
	}
	for _, name := range outputs {
		data.WriteString("o")
		data.WriteString(strconv.Quote(name))
		data.WriteByte('\n')
	}
	return SpecHash(NewHash([]byte(data.String())))
}
