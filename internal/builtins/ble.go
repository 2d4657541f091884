// ABOUTME: BLE pack exposes the BLE manager as executable tools: ble.scan and ble.watch.
// ABOUTME: ble.watch streams notifications as progress events and is cancellable.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/2389/ble-gateway/internal/ble"
	"github.com/2389/ble-gateway/internal/tools"
)

const (
	maxWatchCount = 10000
	// watchBuffer holds notifications the watcher has not consumed yet.
	watchBuffer = 64
)

// BLEPack creates the BLE pack over mgr.
func BLEPack(mgr ble.Manager) *tools.Pack {
	b := &bleHandlers{manager: mgr}
	return &tools.Pack{
		ID: BLEPackID,
		Tools: []*tools.Tool{
			{
				ID: "ble.scan",
				Metadata: tools.Metadata{
					Name:        "BLE Scan",
					Description: "List BLE devices known to the gateway",
					InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				},
				Handler: b.Scan,
			},
			{
				ID: "ble.watch",
				Metadata: tools.Metadata{
					Name:        "BLE Watch",
					Description: "Report notifications from a characteristic until count arrive",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"deviceId":{"type":"string","minLength":1},"characteristicUuid":{"type":"string","minLength":1},"count":{"type":"integer","minimum":1,"maximum":10000}},"required":["deviceId","characteristicUuid"]}`),
					Cancellable: true,
				},
				Handler: b.Watch,
			},
		},
	}
}

type bleHandlers struct {
	manager ble.Manager
}

// Scan lists devices, reporting how many were found.
func (b *bleHandlers) Scan(ctx context.Context, call *tools.Call) (any, error) {
	devices, err := b.manager.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %s", ble.Code(err))
	}
	call.Progress(map[string]int{"found": len(devices)})
	return map[string]any{
		"devices": devices,
		"count":   len(devices),
	}, nil
}

type watchInput struct {
	DeviceID           string `json:"deviceId"`
	CharacteristicUUID string `json:"characteristicUuid"`
	Count              int    `json:"count"`
}

// Watch subscribes to a characteristic and reports each notification as
// progress. It unsubscribes when count notifications arrived or it is cancelled.
func (b *bleHandlers) Watch(ctx context.Context, call *tools.Call) (any, error) {
	in := watchInput{Count: 1}
	if err := call.Bind(&in); err != nil {
		return nil, err
	}
	if in.DeviceID == "" || in.CharacteristicUUID == "" {
		return nil, errors.New("deviceId and characteristicUuid are required")
	}
	if in.Count < 1 || in.Count > maxWatchCount {
		return nil, fmt.Errorf("count must be between 1 and %d", maxWatchCount)
	}

	notes := make(chan []byte, min(in.Count, watchBuffer))
	listener := ble.NewListener(func(data []byte) {
		select {
		case notes <- data:
		default:
			// Drop when the watcher is not keeping up.
		}
	})
	if err := b.manager.Subscribe(ctx, in.DeviceID, in.CharacteristicUUID, listener); err != nil {
		return nil, fmt.Errorf("subscribing: %s", ble.Code(err))
	}
	defer func() {
		_ = b.manager.Unsubscribe(context.WithoutCancel(ctx), in.DeviceID, in.CharacteristicUUID, listener)
	}()

	stop := make(chan struct{})
	var once sync.Once
	call.SetCancel(func(context.Context) error {
		once.Do(func() { close(stop) })
		return nil
	})

	var last []byte
	for received := 0; received < in.Count; {
		select {
		case <-stop:
			return map[string]any{"received": received, "stopped": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case data := <-notes:
			received++
			last = data
			call.Progress(map[string]any{"index": received, "data": data})
		}
	}
	return map[string]any{"received": in.Count, "last": last}, nil
}
