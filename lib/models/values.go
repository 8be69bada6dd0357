package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"slices"
	"time"
)

// Server is one entry of the upstream catalog.
type Server struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Version      string    `json:"version"`
	Capabilities []string  `json:"capabilities,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Servers []Server

// DigestServer hashes the fields of s that take part in comparison. The name is
// the identity of the entry and timestamps churn without content changes, so
// neither is included.
func DigestServer(s *Server) string {
	caps := slices.Clone(s.Capabilities)
	slices.Sort(caps)

	h := sha256.New()
	writeField(h, s.Version)
	writeField(h, s.Description)
	writeField(h, fmt.Sprint(len(caps)))
	for _, c := range caps {
		writeField(h, c)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Length-prefixed so that ("ab", "c") and ("a", "bc") never collide.
func writeField(h hash.Hash, v string) {
	fmt.Fprintf(h, "%d:%s;", len(v), v)
}
