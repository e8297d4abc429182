package fwmp

import (
	"net"
	"testing"
	"time"
)

// fakeDevice answers exactly one datagram with a response whose sequence
// byte is under the test's control, then exits.
func fakeDevice(t *testing.T, respSeq func(reqSeq uint8) uint8) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	go func() {
		buf := make([]byte, 2048)
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		reqHdr, err := DecodeHeader(buf[:n])
		if err != nil {
			return
		}
		respHdr := Header{Op: reqHdr.Op, BodyLen: 0, Group: reqHdr.Group, Seq: respSeq(reqHdr.Seq), Command: reqHdr.Command}
		_, _ = conn.WriteToUDP(respHdr.Encode(), addr)
	}()
	return conn
}

func dialTo(t *testing.T, conn *net.UDPConn) *Transport {
	t.Helper()
	addr := conn.LocalAddr().(*net.UDPAddr)
	tr, err := Dial("127.0.0.1", uint16(addr.Port))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return tr
}

func TestTransportAcceptsMatchingSequence(t *testing.T) {
	dev := fakeDevice(t, func(reqSeq uint8) uint8 { return reqSeq })
	defer dev.Close()

	tr := dialTo(t, dev)
	defer tr.Close()

	if _, err := tr.Transceive(OpWrite, 0, 0, nil, time.Second); err != nil {
		t.Fatalf("Transceive: %v", err)
	}
}

func TestTransportRejectsSequenceMismatch(t *testing.T) {
	dev := fakeDevice(t, func(reqSeq uint8) uint8 { return reqSeq + 1 })
	defer dev.Close()

	tr := dialTo(t, dev)
	defer tr.Close()

	_, err := tr.Transceive(OpWrite, 0, 0, nil, time.Second)
	if err != ErrInvalidResponse {
		t.Fatalf("got err = %v, want ErrInvalidResponse", err)
	}
}

func TestTransportTimesOutWhenUnreachable(t *testing.T) {
	// A listener that never replies, so the read deadline expires.
	dev, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer dev.Close()

	tr := dialTo(t, dev)
	defer tr.Close()

	_, err = tr.Transceive(OpWrite, 0, 0, nil, 50*time.Millisecond)
	if err != ErrNotReachable {
		t.Fatalf("got err = %v, want ErrNotReachable", err)
	}
}
