// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/relabs-tech/flightcore/internal/clock"
	"github.com/relabs-tech/flightcore/internal/config"
	"github.com/relabs-tech/flightcore/internal/sensors"
)

// RegisterValue is one row of a register dump.
type RegisterValue struct {
	Address string `json:"addr"`
	Name    string `json:"name"`
	Access  string `json:"access"`
	Value   string `json:"value,omitempty"`
	Default string `json:"default"`
	Error   string `json:"error,omitempty"`
}

// RegisterDump is the exported register snapshot.
type RegisterDump struct {
	Version   int             `json:"version"`
	Device    string          `json:"device"`
	Timestamp string          `json:"timestamp"`
	Registers []RegisterValue `json:"registers"`
}

type registerReader interface {
	ReadRegister(ctx context.Context, reg byte) (byte, error)
}

// RunRegisterDump initializes the device and writes every known register
// with its live value to w, as a table or as JSON.
func RunRegisterDump(ctx context.Context, w io.Writer, asJSON bool) error {
	cfg := config.Get()

	dev, b, err := openDevice(cfg, clock.NewSystem())
	if err != nil {
		return err
	}
	defer b.Close()

	if err := dev.Init(ctx); err != nil {
		return err
	}
	return dumpRegisters(ctx, dev, w, asJSON)
}

func dumpRegisters(ctx context.Context, r registerReader, w io.Writer, asJSON bool) error {
	dump := RegisterDump{
		Version:   1,
		Device:    "mpu6050",
		Timestamp: time.Now().Format(time.RFC3339),
	}
	for _, info := range sensors.RegisterMap() {
		row := RegisterValue{
			Address: fmt.Sprintf("0x%02X", info.Address),
			Name:    info.Name,
			Access:  info.Access,
			Default: fmt.Sprintf("0x%02X", info.Default),
		}
		if v, err := r.ReadRegister(ctx, info.Address); err != nil {
			row.Error = err.Error()
		} else {
			row.Value = fmt.Sprintf("0x%02X", v)
		}
		dump.Registers = append(dump.Registers, row)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDR\tNAME\tACCESS\tVALUE\tDEFAULT")
	for _, row := range dump.Registers {
		value := row.Value
		if row.Error != "" {
			value = "ERR: " + row.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.Address, row.Name, row.Access, value, row.Default)
	}
	return tw.Flush()
}
