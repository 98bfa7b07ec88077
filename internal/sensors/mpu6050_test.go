package sensors

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/relabs-tech/flightcore/internal/bus"
	"github.com/relabs-tech/flightcore/internal/clock"
	"github.com/relabs-tech/flightcore/internal/imu"
	"github.com/relabs-tech/flightcore/internal/logging"
)

func newTestDevice(timeout time.Duration) (*MPU6050, *Sim, *clock.Fake) {
	sim := NewSim()
	clk := clock.NewFake(0)
	b := bus.New(sim, timeout, clk, logging.Discard())
	return NewMPU6050(b, clk, logging.Discard()), sim, clk
}

func TestInitSequence(t *testing.T) {
	dev, sim, clk := newTestDevice(0)

	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	want := []RegisterWrite{
		{RegPwrMgmt1, 0x80},
		{RegPwrMgmt1, 0x03},
		{RegConfig, 0x00},
		{RegGyroConfig, 0x18},
		{RegAccelConfig, 0x10},
	}
	if got := sim.Writes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}
	if got := sim.Register(RegPwrMgmt1); got != 0x03 {
		t.Errorf("PWR_MGMT_1 = 0x%02X, want 0x03", got)
	}
	// 100ms bus settle, 5ms after reset, 1ms before the temperature read.
	if got := clk.Slept(); got != 106 {
		t.Errorf("slept %dms, want 106", got)
	}
}

func TestInitStopsAtFirstFailedWrite(t *testing.T) {
	tests := []struct {
		name    string
		failAt  int
		status  bus.Status
		wantReg byte
	}{
		{"reset", 1, bus.StatusAddrNack, RegPwrMgmt1},
		{"power", 2, bus.StatusDataNack, RegPwrMgmt1},
		{"config", 3, bus.StatusDataNack, RegConfig},
		{"gyro", 4, bus.StatusOther, RegGyroConfig},
		{"accel", 5, bus.StatusDataTooLong, RegAccelConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, sim, _ := newTestDevice(0)
			sim.FailWrite(tt.failAt, tt.status)

			err := dev.Init(context.Background())
			var we *DeviceWriteError
			if !errors.As(err, &we) {
				t.Fatalf("err = %v, want *DeviceWriteError", err)
			}
			if we.Register != tt.wantReg || we.Status != tt.status {
				t.Errorf("got register 0x%02X status %d, want 0x%02X status %d", we.Register, we.Status, tt.wantReg, tt.status)
			}
			if n := len(sim.Writes()); n != tt.failAt {
				t.Errorf("%d writes issued, want %d", n, tt.failAt)
			}
		})
	}
}

func TestReadGyroBigEndian(t *testing.T) {
	dev, sim, _ := newTestDevice(0)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	want := [3]int16{-2, 300, math.MaxInt16}
	sim.SetGyro(want)
	got, err := dev.ReadGyroRaw(context.Background())
	if err != nil {
		t.Fatalf("ReadGyroRaw: %v", err)
	}
	if got != want {
		t.Errorf("gyro = %v, want %v", got, want)
	}
	if r := sim.Register(RegGyroXOutH); r != 0xFF {
		t.Errorf("GYRO_XOUT_H = 0x%02X, want 0xFF", r)
	}
}

func TestReadAccel(t *testing.T) {
	dev, sim, _ := newTestDevice(0)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	want := [3]int16{math.MinInt16, -4096, 4096}
	sim.SetAccel(want)
	got, err := dev.ReadAccelRaw(context.Background())
	if err != nil {
		t.Fatalf("ReadAccelRaw: %v", err)
	}
	if got != want {
		t.Errorf("accel = %v, want %v", got, want)
	}
}

func TestShortRead(t *testing.T) {
	dev, sim, _ := newTestDevice(0)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	sim.LimitRead(4)
	_, err := dev.ReadGyroRaw(context.Background())
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("err = %v, want ErrShortRead", err)
	}
	var se *ShortReadError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *ShortReadError", err)
	}
	if se.Register != RegGyroXOutH || se.Want != 6 || se.Got != 4 {
		t.Errorf("got %+v", se)
	}
}

func TestReadNackIsNotShortRead(t *testing.T) {
	dev, sim, _ := newTestDevice(0)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	sim.FailReads(true)
	_, err := dev.ReadGyroRaw(context.Background())
	if err == nil || errors.Is(err, ErrShortRead) {
		t.Fatalf("err = %v, want a bus error that is not ErrShortRead", err)
	}
	var se *bus.StatusError
	if !errors.As(err, &se) || se.Status != bus.StatusAddrNack {
		t.Errorf("err = %v, want address nack", err)
	}

	sim.FailReads(false)
	sim.LimitRead(0)
	if _, err := dev.ReadGyroRaw(context.Background()); !errors.Is(err, ErrShortRead) {
		t.Errorf("empty read: err = %v, want ErrShortRead", err)
	}
}

func TestTemperature(t *testing.T) {
	dev, sim, _ := newTestDevice(0)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	sim.SetTemperature(-12412 + 340*25)
	raw, err := dev.ReadTemperatureRaw(context.Background())
	if err != nil {
		t.Fatalf("ReadTemperatureRaw: %v", err)
	}
	if c := imu.TemperatureCelsius(raw); math.Abs(c-25) > 1e-9 {
		t.Errorf("temperature = %.3f°C, want 25", c)
	}
}

func TestReadTimeout(t *testing.T) {
	dev, sim, _ := newTestDevice(5 * time.Millisecond)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	sim.Stall(50 * time.Millisecond)
	_, err := dev.ReadAccelRaw(context.Background())
	if !errors.Is(err, bus.ErrTimeout) {
		t.Fatalf("err = %v, want bus.ErrTimeout", err)
	}
}

func TestInitWithoutDevice(t *testing.T) {
	sim := NewSim()
	clk := clock.NewFake(0)
	b := bus.New(wrongAddress{sim}, 0, clk, logging.Discard())
	dev := NewMPU6050(b, clk, logging.Discard())

	var we *DeviceWriteError
	if err := dev.Init(context.Background()); !errors.As(err, &we) || we.Status != bus.StatusAddrNack {
		t.Fatalf("err = %v, want address nack on reset", err)
	}
}

// wrongAddress talks to the simulated device at an address it does not answer.
type wrongAddress struct{ *Sim }

func (w wrongAddress) Write(_ uint16, data []byte) bus.Status { return w.Sim.Write(0x69, data) }
func (w wrongAddress) Read(_ uint16, n int) ([]byte, error)   { return w.Sim.Read(0x69, n) }

func TestRegisterMap(t *testing.T) {
	seen := map[byte]string{}
	for _, r := range RegisterMap() {
		if prev, ok := seen[r.Address]; ok {
			t.Errorf("address 0x%02X listed twice (%s, %s)", r.Address, prev, r.Name)
		}
		seen[r.Address] = r.Name
	}
	for _, reg := range []byte{RegPwrMgmt1, RegConfig, RegGyroConfig, RegAccelConfig, RegGyroXOutH, RegAccelXOutH, RegTempOutH, RegWhoAmI} {
		if _, ok := seen[reg]; !ok {
			t.Errorf("register 0x%02X missing from map", reg)
		}
	}
}

func TestReadRegister(t *testing.T) {
	dev, _, _ := newTestDevice(0)
	if err := dev.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	v, err := dev.ReadRegister(context.Background(), RegWhoAmI)
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if v != 0x68 {
		t.Errorf("WHO_AM_I = 0x%02X, want 0x68", v)
	}
}
