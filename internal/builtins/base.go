// ABOUTME: Base pack provides general-purpose tools: echo and countdown.
// ABOUTME: Countdown is the reference cancellable tool.

package builtins

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/2389/ble-gateway/internal/tools"
)

// BasePack creates the base pack with echo and countdown.
func BasePack() *tools.Pack {
	return &tools.Pack{
		ID: BasePackID,
		Tools: []*tools.Tool{
			{
				ID: "echo",
				Metadata: tools.Metadata{
					Name:        "Echo",
					Description: "Return the input unchanged",
					InputSchema: json.RawMessage(`{"type":"object"}`),
				},
				Handler: Echo,
			},
			{
				ID: "countdown",
				Metadata: tools.Metadata{
					Name:        "Countdown",
					Description: "Count down from seconds, reporting each tick",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"seconds":{"type":"integer","minimum":0,"maximum":3600},"intervalMs":{"type":"integer","minimum":1}}}`),
					Cancellable: true,
				},
				Handler: Countdown,
			},
		},
	}
}

// Echo reports full progress and resolves with {echoed: input}.
func Echo(ctx context.Context, call *tools.Call) (any, error) {
	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	call.Progress(map[string]int{"percent": 100})
	return map[string]json.RawMessage{"echoed": input}, nil
}

type countdownInput struct {
	Seconds    int `json:"seconds"`
	IntervalMs int `json:"intervalMs"`
}

// Countdown reports {remaining} once per interval until it reaches zero.
func Countdown(ctx context.Context, call *tools.Call) (any, error) {
	in := countdownInput{Seconds: 3, IntervalMs: 1000}
	if err := call.Bind(&in); err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	var once sync.Once
	call.SetCancel(func(context.Context) error {
		once.Do(func() { close(stop) })
		return nil
	})

	ticker := time.NewTicker(time.Duration(in.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for remaining := in.Seconds; remaining > 0; {
		select {
		case <-stop:
			return map[string]any{"stopped": true, "remaining": remaining}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			remaining--
			call.Progress(map[string]int{"remaining": remaining})
		}
	}
	return map[string]any{"done": true, "seconds": in.Seconds}, nil
}
