// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bus wraps a two-wire (I2C) transport with register-level helpers and
// a bounded wait on every transaction.
//
// A Bus is not safe for concurrent use by independent callers. The flight core
// drives it from a single goroutine; the internal semaphore only keeps a
// transaction that outlived its timeout from overlapping the next one.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrTimeout is returned when a transaction does not complete within the
// configured bound.
var ErrTimeout = errors.New("bus: transaction timed out")

var errNotOpen = errors.New("transport not open")

// Status is the completion code of a write transaction. Zero means success.
type Status uint8

const (
	StatusOK          Status = 0
	StatusDataTooLong Status = 1
	StatusAddrNack    Status = 2
	StatusDataNack    Status = 3
	StatusOther       Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDataTooLong:
		return "data too long"
	case StatusAddrNack:
		return "address nack"
	case StatusDataNack:
		return "data nack"
	default:
		return fmt.Sprintf("error %d", uint8(s))
	}
}

// StatusError reports a non-zero write status.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bus: write status %d (%s)", uint8(e.Status), e.Status)
}

// Transport is the primitive set exposed by the platform bus driver.
//
// Write performs begin-transmission, sends every byte and ends the
// transmission, returning the resulting status. Read requests n bytes from the
// device and returns what was received, which may be fewer than n. Read
// returns an error only when the transfer itself failed.
type Transport interface {
	Begin() error
	Write(addr uint16, data []byte) Status
	Read(addr uint16, n int) ([]byte, error)
	Close() error
}

// Sleeper blocks for a number of milliseconds.
type Sleeper interface {
	SleepMs(ms uint32)
}

// Bus adds register helpers and a per-transaction timeout on top of a Transport.
type Bus struct {
	tr      Transport
	timeout time.Duration
	sleep   Sleeper
	sem     chan struct{}
	log     *logrus.Entry
}

// New returns a Bus over tr. A zero timeout disables the bound.
func New(tr Transport, timeout time.Duration, sleep Sleeper, log *logrus.Entry) *Bus {
	return &Bus{
		tr:      tr,
		timeout: timeout,
		sleep:   sleep,
		sem:     make(chan struct{}, 1),
		log:     log,
	}
}

// Begin opens the underlying transport.
func (b *Bus) Begin() error {
	if err := b.tr.Begin(); err != nil {
		return fmt.Errorf("bus: begin: %w", err)
	}
	return nil
}

// Close releases the underlying transport.
func (b *Bus) Close() error {
	return b.tr.Close()
}

// WriteRegister writes a single value to a device register.
func (b *Bus) WriteRegister(ctx context.Context, addr uint16, reg, val byte) error {
	var st Status
	if err := b.do(ctx, func() { st = b.tr.Write(addr, []byte{reg, val}) }); err != nil {
		return err
	}
	if st != StatusOK {
		b.log.WithFields(logrus.Fields{"addr": fmt.Sprintf("0x%02X", addr), "reg": fmt.Sprintf("0x%02X", reg), "status": uint8(st)}).
			Debug("register write failed")
		return &StatusError{Status: st}
	}
	return nil
}

// ReadRegisters sets the device register pointer to reg, waits 1 ms, then
// requests len(buf) bytes. It returns the number of bytes copied into buf; a
// count below len(buf) with a nil error is a short read.
func (b *Bus) ReadRegisters(ctx context.Context, addr uint16, reg byte, buf []byte) (int, error) {
	var st Status
	if err := b.do(ctx, func() { st = b.tr.Write(addr, []byte{reg}) }); err != nil {
		return 0, err
	}
	if st != StatusOK {
		b.log.WithFields(logrus.Fields{"addr": fmt.Sprintf("0x%02X", addr), "reg": fmt.Sprintf("0x%02X", reg), "status": uint8(st)}).
			Debug("register pointer write failed")
		return 0, &StatusError{Status: st}
	}

	b.sleep.SleepMs(1)

	var (
		got     []byte
		readErr error
	)
	if err := b.do(ctx, func() { got, readErr = b.tr.Read(addr, len(buf)) }); err != nil {
		return 0, err
	}
	if readErr != nil {
		return 0, fmt.Errorf("bus: read %d bytes from 0x%02X: %w", len(buf), addr, readErr)
	}
	return copy(buf, got), nil
}

// do runs fn with the bus held, giving up after the configured timeout. A
// transaction that times out keeps the bus until the transport returns, so the
// next call waits on the same bound instead of interleaving with it.
func (b *Bus) do(ctx context.Context, fn func()) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return ctxErr(ctx)
	}

	done := make(chan struct{})
	go func() {
		defer func() { <-b.sem }()
		fn()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.log.WithField("timeout", b.timeout).Warn("bus transaction timed out")
		return ctxErr(ctx)
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
