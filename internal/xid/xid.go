// Package xid generates prefixed identifiers for sales, closures, memberships
// and the rest of the catalog ("sale-...", "cc-...", "mem-..."). The prefix
// makes IDs self-describing in logs and audit trails.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
