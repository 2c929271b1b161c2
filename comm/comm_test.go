package comm_test

import (
	"io"
	"net"
	"testing"

	"github.com/hcit-labs/autoaircon/comm"
)

func TestRemoteDeviceSendRecvRoundTrips(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	rd := comm.NewRemoteDevice(ln.Addr().String(), nil)
	if err := rd.Open(); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rd.Close()

	resp, err := rd.SendRecv([]byte("hello"))
	if err != nil {
		t.Fatalf("sendrecv failed: %v", err)
	}
	if string(resp) != "hello" {
		t.Errorf("expected echoed \"hello\", got %q", resp)
	}
}
