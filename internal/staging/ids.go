package staging

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewTransactionID returns TXN_<unix-ms>_<8-hex>. The random suffix keeps
// ids collision-free across concurrent stage requests.
func NewTransactionID(now time.Time) string {
	return fmt.Sprintf("TXN_%d_%s", now.UnixMilli(), randomHex(4))
}

// NoticeID derives the per-recipient correlation key used by the permanent
// stores: a time component plus the recipient index, fixed at ten digits.
func NoticeID(now time.Time, index int) string {
	return fmt.Sprintf("%010d", (now.UnixMilli()%10_000_000)*100+int64(index%100))
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process is in much deeper trouble;
		// a timestamp-only suffix keeps ids usable.
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b)
}
