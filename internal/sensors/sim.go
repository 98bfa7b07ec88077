package sensors

import (
	"sync"
	"time"

	"github.com/relabs-tech/flightcore/internal/bus"
)

// RegisterWrite is one register write observed by a Sim.
type RegisterWrite struct {
	Register byte
	Value    byte
}

// Sim is an in-memory MPU6050 that implements bus.Transport. It backs the
// "sim" bus driver and the tests.
type Sim struct {
	mu sync.Mutex

	regs    [256]byte
	pointer byte
	begun   bool
	writes  []RegisterWrite

	failAt     int // 1-based register write index, 0 = never
	failStatus bus.Status
	readLimit  int // -1 = unlimited
	failReads  bool
	stall      time.Duration
	motion     func() (gyro, accel [3]int16)
}

// NewSim returns a powered-up simulated device at rest (level, 1g on yaw axis).
func NewSim() *Sim {
	s := &Sim{readLimit: -1}
	s.reset()
	s.setTriple(RegAccelXOutH, [3]int16{0, 0, 4096})
	return s
}

func (s *Sim) reset() {
	for i := range s.regs {
		if i >= int(RegAccelXOutH) && i < int(RegGyroXOutH)+6 {
			continue // data registers keep their sample
		}
		s.regs[i] = 0
	}
	s.regs[RegPwrMgmt1] = 0x40
	s.regs[RegWhoAmI] = byte(Address)
}

// SetGyro sets the raw gyro counts returned by the next reads.
func (s *Sim) SetGyro(v [3]int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTriple(RegGyroXOutH, v)
}

// SetAccel sets the raw accelerometer counts returned by the next reads.
func (s *Sim) SetAccel(v [3]int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTriple(RegAccelXOutH, v)
}

// SetTemperature sets the raw temperature word.
func (s *Sim) SetTemperature(v int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[RegTempOutH] = byte(uint16(v) >> 8)
	s.regs[RegTempOutH+1] = byte(v)
}

// SetMotion installs a generator consulted before every data read.
func (s *Sim) SetMotion(fn func() (gyro, accel [3]int16)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motion = fn
}

// FailWrite makes the n-th register write (1-based, counted from the start)
// return st instead of succeeding.
func (s *Sim) FailWrite(n int, st bus.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = n
	s.failStatus = st
}

// LimitRead caps the number of bytes returned per read; negative removes the cap.
func (s *Sim) LimitRead(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readLimit = n
}

// FailReads makes every data read fail as if the device stopped
// acknowledging, while register pointer writes still succeed.
func (s *Sim) FailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = fail
}

// Stall delays every transaction by d.
func (s *Sim) Stall(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stall = d
}

// Writes returns the register writes seen so far, in order.
func (s *Sim) Writes() []RegisterWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RegisterWrite(nil), s.writes...)
}

// Register returns the current value of reg.
func (s *Sim) Register(reg byte) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg]
}

func (s *Sim) setTriple(reg byte, v [3]int16) {
	for i, x := range v {
		s.regs[int(reg)+2*i] = byte(uint16(x) >> 8)
		s.regs[int(reg)+2*i+1] = byte(x)
	}
}

func (s *Sim) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun = true
	return nil
}

func (s *Sim) Write(addr uint16, data []byte) bus.Status {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.begun || addr != Address {
		return bus.StatusAddrNack
	}
	if len(data) == 0 {
		return bus.StatusOK
	}
	s.pointer = data[0]
	if len(data) == 1 {
		return bus.StatusOK
	}

	s.writes = append(s.writes, RegisterWrite{Register: data[0], Value: data[1]})
	if s.failAt == len(s.writes) {
		return s.failStatus
	}
	for i, v := range data[1:] {
		reg := s.pointer + byte(i)
		if reg == RegPwrMgmt1 && v&PwrMgmt1DeviceReset != 0 {
			s.reset()
			continue
		}
		s.regs[reg] = v
	}
	return bus.StatusOK
}

func (s *Sim) Read(addr uint16, n int) ([]byte, error) {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.begun || addr != Address || s.failReads {
		return nil, &bus.StatusError{Status: bus.StatusAddrNack}
	}
	if s.motion != nil {
		g, a := s.motion()
		s.setTriple(RegGyroXOutH, g)
		s.setTriple(RegAccelXOutH, a)
	}
	if s.readLimit >= 0 && n > s.readLimit {
		n = s.readLimit
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = s.regs[s.pointer+byte(i)]
	}
	return out, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun = false
	return nil
}

func (s *Sim) wait() {
	s.mu.Lock()
	d := s.stall
	s.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}
