package fwmp

import "testing"

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{Op: OpWrite, BodyLen: 12, Group: 100, Seq: 7, Command: 3}
	buf := append(h.Encode(), make([]byte, 12)...)

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeaderEncodingLayout(t *testing.T) {
	h := Header{Op: OpRead, BodyLen: 0x0102, Group: 0x0304, Seq: 9, Command: 5}
	buf := h.Encode()

	if buf[0] != (protoVersion<<3)|byte(OpRead) {
		t.Errorf("byte0 = %#x", buf[0])
	}
	if buf[1] != 0 {
		t.Errorf("byte1 (flags) = %#x, want 0", buf[1])
	}
	if buf[2] != 0x01 || buf[3] != 0x02 {
		t.Errorf("body length bytes = %#x %#x", buf[2], buf[3])
	}
	if buf[4] != 0x03 || buf[5] != 0x04 {
		t.Errorf("group bytes = %#x %#x", buf[4], buf[5])
	}
	if buf[6] != 9 {
		t.Errorf("seq = %d, want 9", buf[6])
	}
	if buf[7] != 5 {
		t.Errorf("command = %d, want 5", buf[7])
	}
}

func TestSequenceWrapsFromMaxToZero(t *testing.T) {
	tr := &Transport{seq: 255}
	first := tr.seq
	tr.seq++
	if first != 255 || tr.seq != 0 {
		t.Fatalf("sequence did not wrap: first=%d next=%d", first, tr.seq)
	}
}

func TestParseOSInfoBanner(t *testing.T) {
	banner := "Zephyr optical-flow 4ad28d86da70 4.3.0-rc1 Sun Jan 4 02:34:48 2026 arm cortex-m33 mr_mcxn_t1/mcxn947/cpu0 Zephyr hwid:..."
	app, board := ParseOSInfoBanner(banner)
	if app != "optical-flow" {
		t.Errorf("app = %q, want optical-flow", app)
	}
	if board != "mr_mcxn_t1" {
		t.Errorf("board = %q, want mr_mcxn_t1", board)
	}
}

func TestBootloaderModeNameTable(t *testing.T) {
	cases := map[int]string{
		0: "single-app",
		9: "swap-move",
	}
	for mode, want := range cases {
		if got := BootloaderModeName(mode); got != want {
			t.Errorf("mode %d: got %q, want %q", mode, got, want)
		}
	}
	if got := BootloaderModeName(99); got != "unknown" {
		t.Errorf("mode 99: got %q, want unknown", got)
	}
}
