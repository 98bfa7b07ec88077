package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/flightcore/internal/bus"
	"github.com/relabs-tech/flightcore/internal/clock"
	"github.com/relabs-tech/flightcore/internal/config"
	"github.com/relabs-tech/flightcore/internal/core"
	"github.com/relabs-tech/flightcore/internal/logging"
	"github.com/relabs-tech/flightcore/internal/sensors"
)

type recordingPublisher struct {
	outs []core.Output
	err  error
}

func (p *recordingPublisher) Publish(out core.Output) error {
	if p.err != nil {
		return p.err
	}
	p.outs = append(p.outs, out)
	return nil
}

// lossyDevice times out on every read once fail is set.
type lossyDevice struct {
	fail bool
}

func (d *lossyDevice) Init(context.Context) error { return nil }

func (d *lossyDevice) ReadGyroRaw(context.Context) ([3]int16, error) {
	if d.fail {
		return [3]int16{}, bus.ErrTimeout
	}
	return [3]int16{}, nil
}

func (d *lossyDevice) ReadAccelRaw(context.Context) ([3]int16, error) {
	return [3]int16{0, 0, 4096}, nil
}

func newLoop(t *testing.T, dev core.Device, pub Publisher, every int) *flightLoop {
	t.Helper()
	c := core.New(dev, clock.NewFake(0), core.Options{FilterWeight: 0.98, TimeoutLimit: 3}, logging.Discard(), nil)
	if err := c.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return &flightLoop{core: c, pub: pub, every: every, interval: time.Millisecond, log: logging.Discard()}
}

func TestLoopPublishesEveryN(t *testing.T) {
	pub := &recordingPublisher{}
	l := newLoop(t, &lossyDevice{}, pub, 3)

	for i := 0; i < 10; i++ {
		if err := l.tick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(pub.outs) != 3 || l.published != 3 || l.cycles != 10 {
		t.Errorf("published %d (%d counted) of %d cycles, want 3", len(pub.outs), l.published, l.cycles)
	}
}

func TestLoopPublishErrorIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("not connected")}
	l := newLoop(t, &lossyDevice{}, pub, 1)
	if err := l.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if l.published != 0 {
		t.Errorf("published = %d", l.published)
	}
}

func TestLoopStopsOnSensorLoss(t *testing.T) {
	dev := &lossyDevice{fail: true}
	l := newLoop(t, dev, &recordingPublisher{}, 1)

	err := l.run(context.Background())
	if !errors.Is(err, core.ErrSensorLost) {
		t.Fatalf("run = %v, want ErrSensorLost", err)
	}
	if l.failures != 3 {
		t.Errorf("failures = %d, want 3", l.failures)
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	l := newLoop(t, &lossyDevice{}, &recordingPublisher{}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.run(ctx); err != nil {
		t.Fatalf("run = %v, want nil on cancel", err)
	}
	if l.cycles == 0 {
		t.Error("no cycles ran")
	}
}

func TestAttitudeFrom(t *testing.T) {
	a := attitudeFrom(core.Output{TimeMs: 42, Roll: math.Pi / 6, Pitch: -math.Pi / 3, AccelCalibrating: true})
	if a.TimeMs != 42 || math.Abs(a.RollDeg-30) > 1e-9 || math.Abs(a.PitchDeg+60) > 1e-9 || !a.Calibrating {
		t.Errorf("attitude = %+v", a)
	}
}

func TestSimDriver(t *testing.T) {
	cfg, err := config.FromViper(config.NewViper())
	if err != nil {
		t.Fatal(err)
	}
	cfg.BusDriver = "sim"
	cfg.BusTimeoutMS = 0

	clk := clock.NewFake(0)
	dev, b, err := openDevice(cfg, clk)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	c := core.New(dev, clk, core.DefaultOptions(), logging.Discard(), nil)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init on sim driver: %v", err)
	}
	out, err := c.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if out.Raw.Accel[2] < 3000 {
		t.Errorf("simulated accel z = %d, expected close to 1g", out.Raw.Accel[2])
	}
}

func TestUnknownDriver(t *testing.T) {
	if _, err := newTransport(&config.Config{BusDriver: "spi"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

type mapReader map[byte]byte

func (m mapReader) ReadRegister(_ context.Context, reg byte) (byte, error) {
	v, ok := m[reg]
	if !ok {
		return 0, fmt.Errorf("no answer at 0x%02X", reg)
	}
	return v, nil
}

func TestDumpRegistersTable(t *testing.T) {
	r := mapReader{}
	for _, info := range sensors.RegisterMap() {
		r[info.Address] = info.Default
	}
	r[sensors.RegPwrMgmt1] = 0x03
	delete(r, sensors.RegUserCtrl)

	var buf bytes.Buffer
	if err := dumpRegisters(context.Background(), r, &buf, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "PWR_MGMT_1") || !strings.Contains(out, "0x03") {
		t.Errorf("table missing PWR_MGMT_1 value:\n%s", out)
	}
	if !strings.Contains(out, "ERR: no answer at 0x6A") {
		t.Errorf("table missing read error:\n%s", out)
	}
}

func TestDumpRegistersJSON(t *testing.T) {
	sim := sensors.NewSim()
	clk := clock.NewFake(0)
	dev := sensors.NewMPU6050(bus.New(sim, 0, clk, logging.Discard()), clk, logging.Discard())
	if err := dev.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := dumpRegisters(context.Background(), dev, &buf, true); err != nil {
		t.Fatal(err)
	}
	var dump RegisterDump
	if err := json.Unmarshal(buf.Bytes(), &dump); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if dump.Device != "mpu6050" || len(dump.Registers) != len(sensors.RegisterMap()) {
		t.Fatalf("dump = %+v", dump)
	}
	for _, row := range dump.Registers {
		switch row.Name {
		case "GYRO_CONFIG":
			if row.Value != "0x18" {
				t.Errorf("GYRO_CONFIG = %s, want 0x18", row.Value)
			}
		case "WHO_AM_I":
			if row.Value != "0x68" {
				t.Errorf("WHO_AM_I = %s, want 0x68", row.Value)
			}
		}
	}
}

func TestAttitudeHub(t *testing.T) {
	hub := newAttitudeHub(logging.Discard())
	srv := httptest.NewServer(hub.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/attitude")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before data = %d, want 503", resp.StatusCode)
	}

	payload, _ := json.Marshal(Attitude{TimeMs: 7, RollDeg: 1.5})
	hub.update(payload)
	hub.update([]byte("not json"))

	resp, err = http.Get(srv.URL + "/api/attitude")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(body, payload) {
		t.Errorf("body = %s, want %s", body, payload)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(msg, payload) {
		t.Errorf("ws message = %s, want %s", msg, payload)
	}

	next, _ := json.Marshal(Attitude{TimeMs: 8})
	hub.update(next)
	_, msg, err = ws.ReadMessage()
	if err != nil {
		t.Fatalf("read pushed update: %v", err)
	}
	if !bytes.Equal(msg, next) {
		t.Errorf("pushed message = %s, want %s", msg, next)
	}
}

func TestConsolePrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &consolePrinter{w: &buf, log: logging.Discard()}

	a, _ := json.Marshal(Attitude{TimeMs: 12, RollDeg: 10, PitchDeg: -5, Calibrating: true})
	p.attitudeMessage(a)
	p.attitudeMessage([]byte("{"))
	o, _ := json.Marshal(core.Output{Velocity: [3]float64{0.5, 0, 0}})
	p.outputMessage(o)

	out := buf.String()
	if !strings.Contains(out, "ROLL=  10.00°") || !strings.Contains(out, "[CAL]") {
		t.Errorf("attitude line = %q", out)
	}
	if !strings.Contains(out, "v=(0.50, 0.00, 0.00)m/s") {
		t.Errorf("imu line = %q", out)
	}
	if got := p.summary(); got != "received 1 attitude and 1 imu messages" {
		t.Errorf("summary = %q", got)
	}
}

func TestAttitudeImage(t *testing.T) {
	blank := func(pix []byte) bool {
		for _, b := range pix {
			if b != 0 {
				return false
			}
		}
		return true
	}
	if img := attitudeImage(Attitude{}, false, false); blank(img.Pix) {
		t.Error("waiting screen is blank")
	}
	if img := attitudeImage(Attitude{RollDeg: 12.5}, true, true); blank(img.Pix) {
		t.Error("attitude screen is blank")
	}
}

type addrRecorder struct{ addrs []uint16 }

func (r *addrRecorder) String() string                  { return "recorder" }
func (r *addrRecorder) SetSpeed(physic.Frequency) error { return nil }
func (r *addrRecorder) Tx(addr uint16, w, rd []byte) error {
	r.addrs = append(r.addrs, addr)
	return nil
}

func TestDisplayAddressRedirect(t *testing.T) {
	rec := &addrRecorder{}
	b := &addrBus{Bus: rec, addr: 0x3D}
	b.Tx(0x3C, []byte{0}, nil)
	b.Tx(0x50, []byte{0}, nil)
	if len(rec.addrs) != 2 || rec.addrs[0] != 0x3D || rec.addrs[1] != 0x50 {
		t.Errorf("addresses = %x", rec.addrs)
	}
}
