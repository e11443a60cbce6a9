package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/alloc"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/executor"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/media"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/nodeconfig"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/obs"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/transport"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/udpmedia"
)

// heartbeatSubject is the demonstrator's fixed publish port, standing in
// for a real node-status heartbeat subject.
const heartbeatSubject cyphal.PortID = 7

// run is the main entry point after CLI parsing. It wires nodeconfig,
// obs, and the media set into one transport, registers a heartbeat
// publisher on the executor, and spins until interrupted — realizing the
// single-medium heartbeat scenario end to end.
func run(opts Options) int {
	cfg, err := nodeconfig.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	_, sync, err := obs.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer sync()

	zap.L().Info("cyphal-node started")
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	res := alloc.New(alloc.Spec{
		General:  cfg.Memory.GeneralBytes,
		Session:  cfg.Memory.SessionBytes,
		Fragment: cfg.Memory.FragmentBytes,
		Payload:  cfg.Memory.PayloadBytes,
	})

	mediaSet, err := buildMedia(cfg.Media, res)
	if err != nil {
		zap.L().Error("failed to build media set", zap.Error(err))
		return 1
	}

	txCapacity := 0
	if len(cfg.Media) > 0 {
		txCapacity = cfg.Media[0].TxCapacity
	}
	tr, err := transport.New(mediaSet, res, txCapacity)
	if err != nil {
		zap.L().Error("failed to build transport", zap.Error(err))
		return 1
	}
	for i, mc := range cfg.Media {
		if err := tr.SetMediumDSCP(i, mc.DSCP); err != nil {
			zap.L().Error("failed to set medium dscp", zap.Int("medium", i), zap.Error(err))
			return 1
		}
	}
	tr.SetTransientErrorHandler(func(r *transport.Report) *cyphal.Failure {
		zap.L().Warn("transient transport error",
			zap.String("kind", r.Kind.String()),
			zap.Int("medium", r.MediumIndex),
			zap.String("correlation_id", r.CorrelationID),
			zap.Error(r.Failure),
		)
		return nil
	})

	if cfg.NodeID != uint16(cyphal.NodeIDUnset) {
		if err := tr.SetLocalNodeID(cyphal.NodeID(cfg.NodeID)); err != nil {
			zap.L().Error("failed to set local node id", zap.Error(err))
			return 1
		}
	}

	pub, err := tr.NewMessageTxSession(heartbeatSubject)
	if err != nil {
		zap.L().Error("failed to create heartbeat publisher", zap.Error(err))
		return 1
	}
	pub.SetSendTimeout(cyphal.Duration(cfg.TxSendTimeoutMS) * cyphal.Millisecond)

	exec := executor.New(res)
	var transferID cyphal.TransferID

	const heartbeatPeriod cyphal.Duration = cyphal.Second
	var heartbeat *executor.Handle
	heartbeat, err = exec.Register(func(now cyphal.Time) {
		transferID++
		meta := cyphal.TransferMetadata{TransferID: transferID, Timestamp: now, Priority: cyphal.PriorityNominal}
		payload := []byte(fmt.Sprintf("uptime=%d", now))
		if err := pub.Send(meta, [][]byte{payload}); err != nil {
			zap.L().Warn("heartbeat send failed", zap.Error(err))
		}
		heartbeat.ScheduleAt(now.Add(heartbeatPeriod))
	}, false)
	if err != nil {
		zap.L().Error("failed to register heartbeat callback", zap.Error(err))
		return 1
	}
	heartbeat.ScheduleAt(exec.Now())

	var runTick *executor.Handle
	runTick, err = exec.Register(func(now cyphal.Time) {
		if err := tr.Run(now); err != nil {
			zap.L().Error("transport run failed", zap.Error(err))
		}
		runTick.ScheduleAt(now.Add(10 * cyphal.Millisecond))
	}, false)
	if err != nil {
		zap.L().Error("failed to register run callback", zap.Error(err))
		return 1
	}
	runTick.ScheduleAt(exec.Now())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	zap.L().Info("node is running; press Ctrl+C to exit")
	for {
		select {
		case <-sigCh:
			zap.L().Info("shutdown requested")
			return 0
		default:
			exec.SpinOnce()
			time.Sleep(time.Millisecond)
		}
	}
}

func buildMedia(cfgs []nodeconfig.MediumConfig, res *alloc.Resources) ([]media.Medium, error) {
	out := make([]media.Medium, 0, len(cfgs))
	for i, mc := range cfgs {
		switch mc.Kind {
		case "udp":
			out = append(out, udpmedia.New(i, mc.Bind, res))
		case "can":
			return nil, cyphal.NewArgumentError("media[%d]: can medium has no socket adapter in this build", i)
		default:
			return nil, cyphal.NewArgumentError("media[%d]: unknown kind %q", i, mc.Kind)
		}
	}
	return out, nil
}
