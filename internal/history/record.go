// Package history stores shell commands per owner, deduplicated by content
// hash, with ordered paging and term search over pluggable backends.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kuitang/cmdhist/internal/errs"
)

// Order selects forward (insertion) or reverse ordering.
type Order string

const (
	// Forward is insertion order, oldest first.
	Forward Order = ""
	// Reverse is the exact mirror of Forward, newest first.
	Reverse Order = "r"
)

// ParseOrder validates a wire order value. Only "" and "r" are accepted.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case Forward, Reverse:
		return Order(s), nil
	default:
		return Forward, errs.New(errs.InvalidArgument, "order specified is not an option")
	}
}

// Record is one stored command.
type Record struct {
	ID        string         `json:"id"`
	Command   string         `json:"command"`
	Username  string         `json:"username,omitempty"`
	Host      string         `json:"host"`
	Timestamp time.Time      `json:"timestamp"`
	Meta      map[string]any `json:"meta"`
	Score     float64        `json:"score,omitempty"`
}

// ContentID returns the deterministic id of a command: the hex SHA-256 of
// its exact bytes. The owner is a storage partition, not part of the id.
func ContentID(command string) string {
	sum := sha256.Sum256([]byte(command))
	return hex.EncodeToString(sum[:])
}

var reservedMetaKeys = map[string]struct{}{
	"command":  {},
	"username": {},
	"host":     {},
}

// StripReserved returns a copy of meta without the server-owned keys
// command, username and host.
func StripReserved(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if _, reserved := reservedMetaKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	return out
}

// Commands extracts the command text of each record.
func Commands(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Command
	}
	return out
}

func cloneRecord(r *Record) Record {
	c := *r
	c.Meta = make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		c.Meta[k] = v
	}
	return c
}
