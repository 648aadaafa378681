package registry

import (
	"crypto/rand"
	"strconv"
	"time"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTabID returns "tab_<unix ms>_<7 base36 chars>".
func NewTabID(now time.Time) string {
	return "tab_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + randomSuffix(7)
}

// NewSessionID returns "session_<unix ms>_<7 base36 chars>".
func NewSessionID(now time.Time) string {
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + randomSuffix(7)
}

func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("registry: crypto/rand failed: " + err.Error())
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = idAlphabet[int(buf[i])%len(idAlphabet)]
	}
	return string(out)
}
