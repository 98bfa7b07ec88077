package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/flightcore/internal/config"
	"github.com/relabs-tech/flightcore/internal/logging"
)

// displayState holds the latest attitude for the OLED.
type displayState struct {
	mu       sync.RWMutex
	attitude Attitude
	have     bool
	received time.Time
}

func (d *displayState) set(a Attitude) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attitude = a
	d.have = true
	d.received = time.Now()
}

func (d *displayState) get() (Attitude, bool, time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attitude, d.have, d.received
}

// ssd1306Addr is the address the ssd1306 driver always talks to.
const ssd1306Addr = 0x3C

// addrBus sends the driver's transactions to the configured display address.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b *addrBus) Tx(addr uint16, w, r []byte) error {
	if addr == ssd1306Addr {
		addr = b.addr
	}
	return b.Bus.Tx(addr, w, r)
}

// staleAfter marks the attitude as stale on screen when no update arrived.
const staleAfter = 2 * time.Second

// RunDisplay renders the attitude on an SSD1306 OLED until ctx is cancelled.
func RunDisplay(ctx context.Context) error {
	cfg := config.Get()
	log := logging.Component("display")

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(&addrBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Infof("display initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderLines("flightcore", "waiting for", "attitude"), image.Point{}); err != nil {
		log.Warnf("error showing splash: %v", err)
	}

	state := &displayState{}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-display")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Infof("connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicAttitude, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var a Attitude
		if err := json.Unmarshal(msg.Payload(), &a); err != nil {
			log.Warnf("attitude unmarshal error: %v", err)
			return
		}
		state.set(a)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Infof("subscribed to %s", cfg.TopicAttitude)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			a, have, at := state.get()
			if err := dev.Draw(dev.Bounds(), attitudeImage(a, have, now.Sub(at) > staleAfter), image.Point{}); err != nil {
				log.Warnf("error updating display: %v", err)
			}
		}
	}
}

// attitudeImage lays out roll and pitch in degrees.
func attitudeImage(a Attitude, have, stale bool) *image1bit.VerticalLSB {
	if !have {
		return renderLines("Attitude", "Waiting...")
	}
	status := ""
	switch {
	case stale:
		status = "STALE"
	case a.Calibrating:
		status = "CALIBRATING"
	}
	return renderLines(
		fmt.Sprintf("R: %7.1f", a.RollDeg),
		fmt.Sprintf("P: %7.1f", a.PitchDeg),
		status,
	)
}

// renderLines draws up to four lines of 7x13 text on a blank 128x64 frame.
func renderLines(lines ...string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i == 4 {
			break
		}
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(line)
	}
	return img
}
