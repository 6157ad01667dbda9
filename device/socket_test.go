package device

import (
	"errors"
	"net"
	"testing"
	"time"
)

func TestSocketDeviceReadWrite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	d := NewSocketDevice(SocketConfig{Address: ln.Addr().String()})
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	server := <-accepted
	defer server.Close()

	if _, err := server.Write([]byte("!Ready\r\n")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	n, err := d.Read(buf, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "!Ready\r\n" {
		t.Fatalf("read %q", buf[:n])
	}

	if _, err := d.Write([]byte("C\r")); err != nil {
		t.Fatal(err)
	}
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = server.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "C\r" {
		t.Fatalf("server read %q", buf[:n])
	}
}

func TestSocketDeviceReadTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(time.Second)
		}
	}()

	d := NewSocketDevice(SocketConfig{Address: ln.Addr().String()})
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	buf := make([]byte, 64)
	if _, err := d.Read(buf, 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Read on an idle socket = %v, want ErrTimeout", err)
	}
}

func TestSocketDeviceNotOpen(t *testing.T) {
	d := NewSocketDevice(SocketConfig{Address: "127.0.0.1:1"})

	if _, err := d.Read(make([]byte, 1), time.Millisecond); err == nil {
		t.Fatal("Read before Open should fail")
	}
	if _, err := d.Write([]byte("x")); err == nil {
		t.Fatal("Write before Open should fail")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close before Open = %v, want nil", err)
	}
}

func TestSocketDeviceString(t *testing.T) {
	plain := NewSocketDevice(SocketConfig{Address: "host:10000"})
	if plain.String() != "tcp://host:10000" {
		t.Errorf("String() = %q", plain.String())
	}
}
