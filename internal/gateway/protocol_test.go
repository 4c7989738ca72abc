package gateway

import "testing"

func TestFrames(t *testing.T) {
	addr := Address{Channel: 3, Pin: 12}
	if got := string(readFrame(addr)); got != "g3,12\n" {
		t.Errorf("readFrame() = %q", got)
	}
	if got := string(writeFrame(addr, 255)); got != "s3,12,255\n" {
		t.Errorf("writeFrame() = %q", got)
	}
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		kind lineKind
		want float64
	}{
		{"512", lineValue, 512},
		{"  42\r", lineValue, 42},
		{"0", lineValue, 0},
		{"ERROR: Timeout, no response from slave", lineTimeout, 0},
		{"ERROR: Timeout, no response from slave\r", lineTimeout, 0},
		{"slave 3: ERROR: Timeout, no response from slave", lineTimeout, 0},
		{"ERROR: checksum", lineMalformed, 0},
		{"12.5", lineMalformed, 0},
		{"", lineMalformed, 0},
		{"ready>", lineMalformed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			kind, v := classifyLine(tt.line)
			if kind != tt.kind {
				t.Fatalf("kind = %v, want %v", kind, tt.kind)
			}
			switch kind {
			case lineValue:
				if v != tt.want {
					t.Errorf("value = %v, want %v", v, tt.want)
				}
			case lineTimeout:
				if !IsNoData(v) {
					t.Errorf("timeout value = %v, want NaN", v)
				}
			}
		})
	}
}
