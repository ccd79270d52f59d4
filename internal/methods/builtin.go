// Package methods carries the builtin node method catalog. The real
// catalog lives in an external engine; these few methods keep the
// binary usable end-to-end and double as wiring examples.
package methods

import (
	"context"
	"time"

	"github.com/Leo-Lynt/flow-api/internal/config"
	"github.com/Leo-Lynt/flow-api/internal/engine"
	logx "github.com/Leo-Lynt/flow-api/pkg/logx"
)

// Register installs the builtin methods into a registry.
func Register(r *engine.MapRegistry, log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}

	r.Register("core", "noop", engine.MethodFunc(
		func(_ context.Context, req engine.CallRequest) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		}))

	// transform/set emits the node's configured "values" map verbatim.
	r.Register("transform", "set", engine.MethodFunc(
		func(_ context.Context, req engine.CallRequest) (map[string]any, error) {
			out := map[string]any{}
			if values, ok := req.Node.Data.Config["values"].(map[string]any); ok {
				for k, v := range values {
					out[k] = v
				}
			}
			return out, nil
		}))

	// time/delay sleeps for the configured duration, honoring ctx.
	r.Register("time", "delay", engine.MethodFunc(
		func(ctx context.Context, req engine.CallRequest) (map[string]any, error) {
			raw, _ := req.Node.Data.Config["duration"].(string)
			d, err := config.ParseDurationField("delay.duration", raw)
			if err != nil {
				return nil, err
			}
			if d > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(d):
				}
			}
			return map[string]any{"delayedMs": d.Milliseconds()}, nil
		}))

	// log/emit writes the configured message plus the node's inputs.
	r.Register("log", "emit", engine.MethodFunc(
		func(_ context.Context, req engine.CallRequest) (map[string]any, error) {
			msg, _ := req.Node.Data.Config["message"].(string)
			log.Info("flow log",
				logx.String("execution", req.Execution.ExecutionID),
				logx.String("node", req.Node.ID),
				logx.String("message", msg),
				logx.Any("inputs", req.Inputs),
			)
			return map[string]any{"message": msg}, nil
		}))
}
