package reader

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

func TestReaderDeliversSingleFrame(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	var mu sync.Mutex
	var got [][]byte
	r := New(64, time.Millisecond, func(c *Conn, frame []byte) {
		mu.Lock()
		got = append(got, append([]byte(nil), frame...))
		mu.Unlock()
	}, func(c *Conn, err error) {})

	r.Add(server)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	go func() {
		client.Write([]byte("12f0u5000:hi"))
	}()

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for frame")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got[0]) != "12f0u5000:hi" {
		t.Fatalf("unexpected frame: %q", got[0])
	}
}

func TestReaderReportsErrorOnClose(t *testing.T) {
	server, client := net.Pipe()

	errCh := make(chan error, 1)
	r := New(64, time.Millisecond, func(c *Conn, frame []byte) {}, func(c *Conn, err error) {
		errCh <- err
	})
	r.Add(server)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	client.Close()

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatalf("expected an error after peer closed the connection")
	}
}

func TestReaderReportsMalformedLength(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	errCh := make(chan error, 1)
	r := New(64, time.Millisecond, func(c *Conn, frame []byte) {}, func(c *Conn, err error) {
		errCh <- err
	})
	r.Add(server)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	go client.Write([]byte("xyz"))

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected non-nil malformed length error")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for malformed length error")
	}
}
