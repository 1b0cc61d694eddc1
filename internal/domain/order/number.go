package order

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// NewNumber returns a human-readable order number of the form
// FD-<base36 unix millis>-<6 hex digits>.
func NewNumber(now time.Time) string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return "FD-" + ts + "-" + strings.ToUpper(hex.EncodeToString(b[:]))
}
