package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/relabs-tech/cycle_tracker/internal/config"
	"github.com/relabs-tech/cycle_tracker/internal/transport"
	"github.com/relabs-tech/cycle_tracker/internal/wire"
)

// FormatPacket renders a packet as one console line.
func FormatPacket(p wire.Packet) string {
	switch v := p.(type) {
	case wire.Position:
		return fmt.Sprintf("[POS ]  x=%8.4f  y=%8.4f  z=%8.4f", v.X, v.Y, v.Z)
	case wire.Circle:
		return fmt.Sprintf("[CIRC]  center=(%.4f, %.4f, %.4f)  normal=(%.3f, %.3f, %.3f)  r=%.4f",
			v.Center[0], v.Center[1], v.Center[2], v.Normal[0], v.Normal[1], v.Normal[2], v.Radius)
	case wire.RefLine:
		return fmt.Sprintf("[REF ]  origin=(%.4f, %.4f, %.4f)  highest=(%.4f, %.4f, %.4f)",
			v.Origin[0], v.Origin[1], v.Origin[2], v.Highest[0], v.Highest[1], v.Highest[2])
	case wire.Phase:
		return fmt.Sprintf("[PHAS]  angle=%6.2f°  velocity=%8.2f°/s", v.AngleDeg, v.AngularVelocity)
	case wire.Pose:
		return fmt.Sprintf("[POSE]  %s  ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f",
			v.Tracker, v.Euler[0], v.Euler[1], v.Euler[2])
	}
	return fmt.Sprintf("[%s]", p.Kind())
}

// printPackets decodes payloads and writes one line each to out.
func printPackets(out io.Writer) func(payload []byte) {
	return func(payload []byte) {
		p, err := wire.Decode(payload)
		if err != nil {
			log.Printf("viewer: %v", err)
			return
		}
		fmt.Fprintln(out, FormatPacket(p))
	}
}

// RunViewer prints every packet the tracker sends, received on
// VIEWER_LISTEN_ADDR or, with useMQTT, from the broker.
func RunViewer(ctx context.Context, useMQTT bool, out io.Writer) error {
	cfg := config.Get()
	show := printPackets(out)

	if useMQTT {
		if cfg.MQTTBroker == "" {
			return fmt.Errorf("viewer: MQTT_BROKER is not set")
		}
		sub, err := transport.SubscribeMQTT(cfg.MQTTBroker, transport.ClientID(cfg.MQTTClientID+"-viewer"), cfg.MQTTTopicPrefix,
			func(payload []byte, _ string) { show(payload) })
		if err != nil {
			return err
		}
		defer sub.Close()
		log.Printf("viewer: subscribed to %s/# on %s", cfg.MQTTTopicPrefix, cfg.MQTTBroker)

		<-ctx.Done()
		log.Println("viewer: shutting down")
		return nil
	}

	l, err := transport.Listen(cfg.ViewerListenAddr, cfg.ReadTimeout())
	if err != nil {
		return err
	}
	defer l.Close()
	log.Printf("viewer: listening on %s", l.LocalAddr())

	err = l.Run(ctx, func(payload []byte, _ *net.UDPAddr) { show(payload) })
	if ctx.Err() != nil {
		log.Println("viewer: shutting down")
		return nil
	}
	return err
}
