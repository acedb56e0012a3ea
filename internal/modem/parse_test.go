package modem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCLIP(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantNumber string
		wantTON    int
		wantOK     bool
	}{
		{"national number", `+CLIP: "0555123456",161,,,,0`, "0555123456", 161, true},
		{"international number", `+CLIP: "+19995551234",145`, "+19995551234", 145, true},
		{"no spaces", `+CLIP:"0700987654",129`, "0700987654", 129, true},
		{"withheld number", `+CLIP: "",128,,,,1`, "", 128, true},
		{"garbage", `+CLIP: banana`, "", 0, false},
		{"different code", `+CRING: VOICE`, "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			number, ton, ok := parseCLIP(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantNumber, number)
				assert.Equal(t, tt.wantTON, ton)
			}
		})
	}
}

func TestParseCMTHeader(t *testing.T) {
	number, timestamp, ok := parseCMTHeader(`+CMT: "+19995551234",,"24/01/05,14:55:01+24"`)
	assert.True(t, ok)
	assert.Equal(t, "+19995551234", number)
	assert.Equal(t, "24/01/05,14:55:01+24", timestamp)

	_, _, ok = parseCMTHeader(`+CMTI: "SM",3`)
	assert.False(t, ok)
}

func TestIsFinalResult(t *testing.T) {
	for _, line := range []string{"OK", "ERROR", "NO CARRIER", "BUSY", "NO ANSWER", "+CME ERROR: 10", "+CMS ERROR: 321"} {
		assert.True(t, isFinalResult(line), line)
	}
	for _, line := range []string{"RING", `+CLIP: "1",161`, "AT+VTS=1", ""} {
		assert.False(t, isFinalResult(line), line)
	}
}
