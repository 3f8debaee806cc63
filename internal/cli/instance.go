package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/elara/internal/config"
	"github.com/roach88/elara/internal/engine"
	"github.com/roach88/elara/internal/frame"
	"github.com/roach88/elara/internal/metrics"
	"github.com/roach88/elara/internal/store"
	"github.com/roach88/elara/internal/transport"
	"github.com/roach88/elara/internal/transport/redis"
)

// instance is a pass-through engine assembled from a configuration.
type instance struct {
	agent  *engine.Agent
	runner *engine.Runner
	rings  map[int32]*transport.Ring
	queues []*redis.Queue
}

func newInstance(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger, m *metrics.Metrics) (*instance, error) {
	inst := &instance{rings: make(map[int32]*transport.Ring)}

	inputs := make([]engine.Input, 0, len(cfg.Inputs))
	for _, in := range cfg.Inputs {
		var receiver transport.Receiver
		switch in.Kind {
		case "ring":
			ring := transport.NewRing(in.Capacity)
			inst.rings[in.Source] = ring
			receiver = ring
		case "redis":
			receiver = inst.queue(in.Redis, logger)
		default:
			return nil, fmt.Errorf("input %d: unknown kind %q", in.Source, in.Kind)
		}
		inputs = append(inputs, engine.Input{SourceID: in.Source, Receiver: receiver, Raw: in.Raw, Type: in.Type})
	}

	ecfg := engine.Config{
		Name:     cfg.Name,
		Commands: st.Log(cfg.Logs.Commands),
		Events:   st.Log(cfg.Logs.Events),
		Inputs:   inputs,
		Context:  ctx,
	}
	if cfg.Output != nil {
		out, err := inst.output(cfg.Output, logger)
		if err != nil {
			return nil, err
		}
		ecfg.Output = out
		ecfg.OutputName = cfg.Output.Name
		ecfg.Positions = st
	}

	idle := engine.NewBackoffIdleStrategy(
		orDefault(cfg.Idle.MaxSpins, engine.DefaultMaxSpins),
		orDefault(cfg.Idle.MaxYields, engine.DefaultMaxYields),
		orDefault(cfg.Idle.MinPark, engine.DefaultMinPark),
		orDefault(cfg.Idle.MaxPark, engine.DefaultMaxPark),
	)
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithIdleStrategy(idle),
	}

	agent, err := engine.NewPassThrough(ecfg, opts...)
	if err != nil {
		inst.close()
		return nil, err
	}
	inst.agent = agent
	inst.runner = agent.Runner(opts...)
	return inst, nil
}

func (inst *instance) queue(r *config.Redis, logger *slog.Logger) *redis.Queue {
	q := redis.New(r.Addr, r.Key,
		redis.WithTimeout(r.Timeout),
		redis.WithMaxLength(r.MaxLength),
		redis.WithLogger(logger),
	)
	inst.queues = append(inst.queues, q)
	return q
}

func (inst *instance) output(o *config.Output, logger *slog.Logger) (engine.Output, error) {
	switch o.Kind {
	case "log":
		return logOutput{logger: logger.With("output", o.Name)}, nil
	case "redis":
		return queueOutput{queue: inst.queue(o.Redis, logger)}, nil
	default:
		return nil, fmt.Errorf("output %s: unknown kind %q", o.Name, o.Kind)
	}
}

// send hands msg to the ring input of source.
func (inst *instance) send(source int32, msg []byte) (transport.SendResult, bool) {
	ring, ok := inst.rings[source]
	if !ok {
		return transport.Failed, false
	}
	res := ring.SendMessage(msg)
	if res == transport.Sent {
		inst.runner.Wake()
	}
	return res, true
}

func (inst *instance) close() {
	for _, ring := range inst.rings {
		ring.Close()
	}
	for _, q := range inst.queues {
		_ = q.Close()
	}
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// logOutput writes committed events to the log.
type logOutput struct {
	logger *slog.Logger
}

func (o logOutput) Publish(ev frame.Event, replay bool) (engine.OutputResult, error) {
	o.logger.Info("event",
		"source", ev.SourceID(),
		"seq", ev.SourceSequence(),
		"index", ev.Index(),
		"type", ev.Type(),
		"replay", replay,
		"payload", string(ev.Payload()),
	)
	return engine.Published, nil
}

// errOutputClosed is returned when the output queue can no longer accept
// events; the event is not retried.
var errOutputClosed = errors.New("output queue closed")

// queueOutput pushes encoded events onto a Redis list.
type queueOutput struct {
	queue *redis.Queue
}

func (o queueOutput) Publish(ev frame.Event, _ bool) (engine.OutputResult, error) {
	switch res := o.queue.SendMessage(ev.Bytes()); res {
	case transport.Sent:
		return engine.Published, nil
	case transport.BackPressured, transport.Disconnected:
		return engine.Retry, nil
	case transport.Closed:
		return engine.Ignored, errOutputClosed
	default:
		return engine.Ignored, fmt.Errorf("publish to %s: %s", o.queue.Key(), res)
	}
}
