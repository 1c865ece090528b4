// Package xid generates prefixed identifiers for records and reports. The
// timestamp component keeps ids roughly sortable by creation time; the random
// suffix makes collisions across concurrent writers negligible.
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
		// rand failure is effectively impossible; fall back to time alone.
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
