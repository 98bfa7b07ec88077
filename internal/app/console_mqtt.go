package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/flightcore/internal/config"
	"github.com/relabs-tech/flightcore/internal/core"
	"github.com/relabs-tech/flightcore/internal/logging"
)

// consolePrinter formats incoming messages as one line each.
type consolePrinter struct {
	w        io.Writer
	log      *logrus.Entry
	attitude atomic.Int64
	outputs  atomic.Int64
}

func (p *consolePrinter) attitudeMessage(payload []byte) {
	var a Attitude
	if err := json.Unmarshal(payload, &a); err != nil {
		p.log.Warnf("attitude unmarshal error: %v", err)
		return
	}
	p.attitude.Add(1)

	cal := ""
	if a.Calibrating {
		cal = "  [CAL]"
	}
	fmt.Fprintf(p.w, "[ATT] t=%8dms  ROLL=%7.2f°  PITCH=%7.2f°%s\n", a.TimeMs, a.RollDeg, a.PitchDeg, cal)
}

func (p *consolePrinter) outputMessage(payload []byte) {
	var out core.Output
	if err := json.Unmarshal(payload, &out); err != nil {
		p.log.Warnf("imu unmarshal error: %v", err)
		return
	}
	p.outputs.Add(1)

	fmt.Fprintf(p.w, "[IMU] gx=%6d gy=%6d gz=%6d  ax=%6d ay=%6d az=%6d  v=(%.2f, %.2f, %.2f)m/s\n",
		out.Raw.Gyro[0], out.Raw.Gyro[1], out.Raw.Gyro[2],
		out.Raw.Accel[0], out.Raw.Accel[1], out.Raw.Accel[2],
		out.Velocity[0], out.Velocity[1], out.Velocity[2],
	)
}

func (p *consolePrinter) summary() string {
	return fmt.Sprintf("received %s attitude and %s imu messages",
		humanize.Comma(p.attitude.Load()), humanize.Comma(p.outputs.Load()))
}

// RunConsoleMQTT prints attitude and raw sample messages until ctx is cancelled.
func RunConsoleMQTT(ctx context.Context, w io.Writer) error {
	cfg := config.Get()
	log := logging.Component("console")
	p := &consolePrinter{w: w, log: log}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-console")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Infof("connected to MQTT broker at %s", cfg.MQTTBroker)

	subs := map[string]mqtt.MessageHandler{
		cfg.TopicAttitude: func(_ mqtt.Client, msg mqtt.Message) { p.attitudeMessage(msg.Payload()) },
	}
	if cfg.TopicIMU != "" {
		subs[cfg.TopicIMU] = func(_ mqtt.Client, msg mqtt.Message) { p.outputMessage(msg.Payload()) }
	}
	for topic, handler := range subs {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			client.Disconnect(250)
			return token.Error()
		}
		log.Infof("subscribed to %s", topic)
	}

	<-ctx.Done()

	log.Info("shutting down, " + p.summary())
	client.Disconnect(250)
	return nil
}
