package bus

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/flightcore/internal/clock"
	"github.com/relabs-tech/flightcore/internal/logging"
)

// scriptTransport records writes and answers reads from a fixed buffer.
type scriptTransport struct {
	mu      sync.Mutex
	writes  [][]byte
	reads   int
	status  Status
	data    []byte
	readErr error
	release chan struct{} // when set, every transaction blocks until closed
}

func (s *scriptTransport) Begin() error { return nil }
func (s *scriptTransport) Close() error { return nil }

func (s *scriptTransport) Write(addr uint16, data []byte) Status {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), data...))
	return s.status
}

func (s *scriptTransport) Read(addr uint16, n int) ([]byte, error) {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return nil, s.readErr
	}
	if n < len(s.data) {
		return s.data[:n], nil
	}
	return s.data, nil
}

func newTestBus(tr Transport, timeout time.Duration) (*Bus, *clock.Fake) {
	clk := clock.NewFake(0)
	return New(tr, timeout, clk, logging.Discard()), clk
}

func TestWriteRegister(t *testing.T) {
	tr := &scriptTransport{}
	b, _ := newTestBus(tr, 0)

	if err := b.WriteRegister(context.Background(), 0x68, 0x6B, 0x80); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	if len(tr.writes) != 1 || !bytes.Equal(tr.writes[0], []byte{0x6B, 0x80}) {
		t.Fatalf("writes = %x, want [6b80]", tr.writes)
	}
}

func TestWriteRegisterStatus(t *testing.T) {
	tr := &scriptTransport{status: StatusDataNack}
	b, _ := newTestBus(tr, 0)

	err := b.WriteRegister(context.Background(), 0x68, 0x1A, 0x00)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Status != StatusDataNack {
		t.Errorf("status = %d, want %d", se.Status, StatusDataNack)
	}
}

func TestReadRegisters(t *testing.T) {
	tr := &scriptTransport{data: []byte{1, 2, 3, 4, 5, 6}}
	b, clk := newTestBus(tr, 0)

	buf := make([]byte, 6)
	n, err := b.ReadRegisters(context.Background(), 0x68, 0x43, buf)
	if err != nil {
		t.Fatalf("ReadRegisters: %v", err)
	}
	if n != 6 || !bytes.Equal(buf, tr.data) {
		t.Errorf("got %d bytes %x, want 6 bytes %x", n, buf, tr.data)
	}
	if len(tr.writes) != 1 || !bytes.Equal(tr.writes[0], []byte{0x43}) {
		t.Errorf("pointer writes = %x, want [43]", tr.writes)
	}
	if clk.Slept() != 1 {
		t.Errorf("slept %dms between pointer write and read, want 1", clk.Slept())
	}
}

func TestReadRegistersShort(t *testing.T) {
	tr := &scriptTransport{data: []byte{0xAA, 0xBB}}
	b, _ := newTestBus(tr, 0)

	buf := make([]byte, 6)
	n, err := b.ReadRegisters(context.Background(), 0x68, 0x3B, buf)
	if err != nil {
		t.Fatalf("ReadRegisters: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
}

func TestReadRegistersTransportError(t *testing.T) {
	nack := errors.New("i2c: no ack")
	tr := &scriptTransport{data: []byte{1, 2, 3, 4, 5, 6}, readErr: nack}
	b, _ := newTestBus(tr, 0)

	n, err := b.ReadRegisters(context.Background(), 0x68, 0x43, make([]byte, 6))
	if !errors.Is(err, nack) {
		t.Fatalf("err = %v, want the transport error", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestReadRegistersPointerNack(t *testing.T) {
	tr := &scriptTransport{status: StatusAddrNack, data: []byte{1, 2}}
	b, _ := newTestBus(tr, 0)

	_, err := b.ReadRegisters(context.Background(), 0x68, 0x41, make([]byte, 2))
	var se *StatusError
	if !errors.As(err, &se) || se.Status != StatusAddrNack {
		t.Fatalf("err = %v, want address nack", err)
	}
	if tr.reads != 0 {
		t.Errorf("read issued after failed pointer write")
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	tr := &scriptTransport{release: release}
	b, _ := newTestBus(tr, 5*time.Millisecond)

	err := b.WriteRegister(context.Background(), 0x68, 0x6B, 0x00)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	// The stuck transaction still owns the bus.
	if _, err := b.ReadRegisters(context.Background(), 0x68, 0x43, make([]byte, 6)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("second call err = %v, want ErrTimeout", err)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for {
		err = b.WriteRegister(context.Background(), 0x68, 0x6B, 0x00)
		if err == nil || time.Now().After(deadline) {
			break
		}
	}
	if err != nil {
		t.Fatalf("bus did not recover: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	tr := &scriptTransport{}
	b, _ := newTestBus(tr, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the transaction wins the race or the cancellation is reported,
	// but a cancellation is never reported as a timeout.
	err := b.WriteRegister(ctx, 0x68, 0x6B, 0x00)
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("cancellation reported as timeout")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want nil or context.Canceled", err)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusOK, "ok"},
		{StatusDataTooLong, "data too long"},
		{StatusAddrNack, "address nack"},
		{StatusDataNack, "data nack"},
		{StatusOther, "error 4"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
