// ABOUTME: Tests for BLE pack tool handlers.
// ABOUTME: Uses the BLE simulator as the manager.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/2389/ble-gateway/internal/ble"
	"github.com/2389/ble-gateway/internal/config"
	"github.com/2389/ble-gateway/internal/tools"
)

const (
	sensorDevice = "sensor-1"
	sensorChar   = "2a6e"
)

func newTestSimulator(t *testing.T) *ble.Simulator {
	t.Helper()
	sim, err := ble.NewSimulator(config.BLEConfig{
		Devices: []config.DeviceConfig{{
			ID:   sensorDevice,
			Name: "Temperature Sensor",
			Services: []config.ServiceConfig{{
				UUID: "181a",
				Characteristics: []config.CharacteristicConfig{
					{UUID: sensorChar, Properties: []string{"read", "notify"}},
				},
			}},
		}},
	}, nil)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	t.Cleanup(func() { sim.Close() })
	return sim
}

func TestBLEScan(t *testing.T) {
	sim := newTestSimulator(t)
	tool := findTool(BLEPack(sim), "ble.scan")
	if tool == nil {
		t.Fatal("ble.scan tool not found")
	}

	p := newCallRecorder()
	result, err := tool.Handler(context.Background(), p.call("ble.scan", ""))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	got := marshal(t, result)
	if !strings.Contains(got, `"count":1`) || !strings.Contains(got, `"id":"sensor-1"`) {
		t.Errorf("unexpected result: %s", got)
	}
	if progress := p.progressJSON(t); len(progress) != 1 || progress[0] != `{"found":1}` {
		t.Errorf("unexpected progress: %v", progress)
	}
}

func startWatch(t *testing.T, sim *ble.Simulator, input string) (*callRecorder, chan any, chan error) {
	t.Helper()
	tool := findTool(BLEPack(sim), "ble.watch")
	if tool == nil {
		t.Fatal("ble.watch tool not found")
	}

	p := newCallRecorder()
	results := make(chan any, 1)
	errs := make(chan error, 1)
	go func() {
		result, err := tool.Handler(context.Background(), p.call("ble.watch", input))
		results <- result
		errs <- err
	}()

	select {
	case <-p.ready:
	case err := <-errs:
		t.Fatalf("watch ended early: %v", err)
	case <-time.After(time.Second):
		t.Fatal("watch never became cancellable")
	}
	return p, results, errs
}

func TestBLEWatch_Count(t *testing.T) {
	sim := newTestSimulator(t)
	if _, err := sim.Connect(context.Background(), sensorDevice); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	p, results, errs := startWatch(t, sim, `{"deviceId":"sensor-1","characteristicUuid":"2a6e","count":2}`)

	sim.Notify(sensorDevice, sensorChar, []byte{0x01})
	sim.Notify(sensorDevice, sensorChar, []byte{0x02})

	select {
	case result := <-results:
		if err := <-errs; err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if got := marshal(t, result); got != `{"last":"Ag==","received":2}` {
			t.Errorf("unexpected result: %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not finish")
	}

	progress := p.progressJSON(t)
	if len(progress) != 2 || progress[0] != `{"data":"AQ==","index":1}` {
		t.Errorf("unexpected progress: %v", progress)
	}
	if n := sim.ListenerCount(sensorDevice, sensorChar); n != 0 {
		t.Errorf("expected listener removed, %d remain", n)
	}
}

func TestBLEWatch_Cancel(t *testing.T) {
	sim := newTestSimulator(t)
	if _, err := sim.Connect(context.Background(), sensorDevice); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	p, results, errs := startWatch(t, sim, `{"deviceId":"sensor-1","characteristicUuid":"2a6e","count":100}`)

	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if err := cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	select {
	case result := <-results:
		if err := <-errs; err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if got := marshal(t, result); got != `{"received":0,"stopped":true}` {
			t.Errorf("unexpected result: %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
	if n := sim.ListenerCount(sensorDevice, sensorChar); n != 0 {
		t.Errorf("expected listener removed, %d remain", n)
	}
}

func TestBLEWatch_NotConnected(t *testing.T) {
	sim := newTestSimulator(t)
	tool := findTool(BLEPack(sim), "ble.watch")

	p := newCallRecorder()
	_, err := tool.Handler(context.Background(), p.call("ble.watch", `{"deviceId":"sensor-1","characteristicUuid":"2a6e"}`))
	if err == nil || !strings.Contains(err.Error(), "not_connected") {
		t.Errorf("expected not_connected error, got %v", err)
	}
}

func TestBLEWatch_CountBounds(t *testing.T) {
	sim := newTestSimulator(t)
	reg := tools.NewRegistry(nil)
	if err := reg.RegisterPack(BLEPack(sim)); err != nil {
		t.Fatalf("RegisterPack: %v", err)
	}
	tool, ok := reg.Lookup("ble.watch")
	if !ok {
		t.Fatal("ble.watch not registered")
	}

	huge := `{"deviceId":"sensor-1","characteristicUuid":"2a6e","count":2000000000}`
	if err := tool.ValidateInput(json.RawMessage(huge)); !errors.Is(err, tools.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for oversized count, got %v", err)
	}
	if err := tool.ValidateInput(json.RawMessage(`{"deviceId":"sensor-1","characteristicUuid":"2a6e","count":10000}`)); err != nil {
		t.Errorf("count at the limit rejected: %v", err)
	}

	// The handler enforces the same bound when called directly.
	_, err := tool.Handler(context.Background(), newCallRecorder().call("ble.watch", huge))
	if err == nil || !strings.Contains(err.Error(), "count must be between") {
		t.Errorf("expected count bound error, got %v", err)
	}
}

func TestRegisterAll(t *testing.T) {
	reg := tools.NewRegistry(nil)
	if err := RegisterAll(reg, newTestSimulator(t)); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	for _, id := range []string{"echo", "countdown", "ble.scan", "ble.watch"} {
		if _, ok := reg.Lookup(id); !ok {
			t.Errorf("tool %s not registered", id)
		}
	}
	if got := reg.PackTools(BLEPackID); len(got) != 2 {
		t.Errorf("expected 2 tools in %s, got %v", BLEPackID, got)
	}

	reg = tools.NewRegistry(nil)
	if err := RegisterAll(reg, nil); err != nil {
		t.Fatalf("RegisterAll without manager: %v", err)
	}
	if reg.Len() != 2 {
		t.Errorf("expected 2 tools without BLE manager, got %d", reg.Len())
	}
}
