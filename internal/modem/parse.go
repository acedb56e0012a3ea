package modem

import (
	"regexp"
	"strconv"
	"strings"
)

// Unsolicited result codes of interest, per 3GPP TS 27.007. The modem sends
// `+CLIP:` after each RING once caller id presentation is enabled, and
// `+CMT:` (header line, then one body line) for directly delivered SMS.
var (
	clipPattern = regexp.MustCompile(`^\+CLIP:\s*"([^"]*)"\s*,\s*(\d+)`)
	cmtPattern  = regexp.MustCompile(`^\+CMT:\s*"([^"]*)"\s*,(?:[^,]*),\s*"([^"]*)"`)
)

// parseCLIP extracts the caller number and type-of-number code from a +CLIP
// unsolicited result line.
func parseCLIP(line string) (number string, ton int, ok bool) {
	m := clipPattern.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	ton, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], ton, true
}

// parseCMTHeader extracts the sender number and service-centre timestamp from
// a +CMT header line. The message body follows on the next line.
func parseCMTHeader(line string) (number, timestamp string, ok bool) {
	m := cmtPattern.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// isFinalResult reports whether the line terminates an AT command exchange.
func isFinalResult(line string) bool {
	switch line {
	case "OK", "ERROR", "NO CARRIER", "BUSY", "NO ANSWER", "NO DIALTONE":
		return true
	}
	return strings.HasPrefix(line, "+CME ERROR") || strings.HasPrefix(line, "+CMS ERROR")
}
