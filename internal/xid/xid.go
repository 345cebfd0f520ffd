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

// Auto returns an invoice number for payloads that did not carry one. The
// random suffix keeps two submissions in the same instant from merging.
func Auto(at time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("AUTO-%d", at.UnixMilli())
	}
	return fmt.Sprintf("AUTO-%d-%s", at.UnixMilli(), hex.EncodeToString(buf))
}
