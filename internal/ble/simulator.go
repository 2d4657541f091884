// ABOUTME: In-memory BLE manager built from configuration.
// ABOUTME: Serves reads and writes from memory and emits timed or injected notifications.

package ble

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/ble-gateway/internal/config"
)

type simChar struct {
	Characteristic
	value    []byte
	interval time.Duration
}

type simDevice struct {
	summary  DeviceSummary
	services []string
	chars    map[string][]*simChar // service uuid -> characteristics
	byUUID   map[string]*simChar
}

// subscription is the set of listeners on one device characteristic.
type subscription struct {
	listeners map[*Listener]struct{}
	stop      context.CancelFunc // ends the notify ticker, if any
}

// Simulator implements Manager without hardware.
type Simulator struct {
	logger *slog.Logger

	mu      sync.Mutex
	devices map[string]*simDevice
	order   []string
	subs    map[string]*subscription // key(device, char)
	closed  bool
}

// NewSimulator builds a simulator from the configured devices.
func NewSimulator(cfg config.BLEConfig, logger *slog.Logger) (*Simulator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		logger:  logger.With("component", "ble"),
		devices: make(map[string]*simDevice),
		subs:    make(map[string]*subscription),
	}

	for _, dc := range cfg.Devices {
		dev := &simDevice{
			summary: DeviceSummary{ID: dc.ID, Name: dc.Name, RSSI: dc.RSSI},
			chars:   make(map[string][]*simChar),
			byUUID:  make(map[string]*simChar),
		}
		for _, sc := range dc.Services {
			svc := normalize(sc.UUID)
			dev.services = append(dev.services, svc)
			for _, cc := range sc.Characteristics {
				value, err := parseValue(cc.Value)
				if err != nil {
					return nil, fmt.Errorf("device %s characteristic %s: %w", dc.ID, cc.UUID, err)
				}
				ch := &simChar{
					Characteristic: Characteristic{
						UUID:        normalize(cc.UUID),
						ServiceUUID: svc,
						Properties:  append([]string(nil), cc.Properties...),
					},
					value:    value,
					interval: cc.NotifyInterval,
				}
				dev.chars[svc] = append(dev.chars[svc], ch)
				dev.byUUID[ch.UUID] = ch
			}
		}
		s.devices[dc.ID] = dev
		s.order = append(s.order, dc.ID)
	}

	s.logger.Info("BLE simulator ready", "devices", len(s.order))
	return s, nil
}

// parseValue accepts "hex:0a0b" or plain text.
func parseValue(v string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(v, "hex:"); ok {
		b, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("decoding hex value: %w", err)
		}
		return b, nil
	}
	return []byte(v), nil
}

func normalize(uuid string) string {
	return strings.ToLower(uuid)
}

func key(deviceID, charUUID string) string {
	return deviceID + ":" + normalize(charUUID)
}

func (s *Simulator) device(id string) (*simDevice, error) {
	dev, ok := s.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	return dev, nil
}

func (s *Simulator) connected(id string) (*simDevice, error) {
	dev, err := s.device(id)
	if err != nil {
		return nil, err
	}
	if !dev.summary.Connected {
		return nil, fmt.Errorf("%w: device %s", ErrNotConnected, id)
	}
	return dev, nil
}

func (s *Simulator) characteristic(deviceID, charUUID string) (*simChar, error) {
	dev, err := s.connected(deviceID)
	if err != nil {
		return nil, err
	}
	ch, ok := dev.byUUID[normalize(charUUID)]
	if !ok {
		return nil, fmt.Errorf("%w: characteristic %s", ErrNotFound, charUUID)
	}
	return ch, nil
}

// ListDevices returns every configured device in configuration order.
func (s *Simulator) ListDevices(ctx context.Context) ([]DeviceSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeviceSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.devices[id].summary)
	}
	return out, nil
}

// Connect marks a device connected.
func (s *Simulator) Connect(ctx context.Context, deviceID string) (DeviceSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := s.device(deviceID)
	if err != nil {
		return DeviceSummary{}, err
	}
	if dev.summary.Connected {
		return DeviceSummary{}, fmt.Errorf("%w: device %s", ErrAlreadyConnected, deviceID)
	}
	dev.summary.Connected = true
	s.logger.Debug("device connected", "device_id", deviceID)
	return dev.summary, nil
}

// Disconnect marks a device disconnected and drops its subscriptions.
func (s *Simulator) Disconnect(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := s.connected(deviceID)
	if err != nil {
		return err
	}
	dev.summary.Connected = false

	prefix := deviceID + ":"
	for k, sub := range s.subs {
		if strings.HasPrefix(k, prefix) {
			if sub.stop != nil {
				sub.stop()
			}
			delete(s.subs, k)
		}
	}
	s.logger.Debug("device disconnected", "device_id", deviceID)
	return nil
}

// ListServices returns a connected device's services.
func (s *Simulator) ListServices(ctx context.Context, deviceID string) ([]Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := s.connected(deviceID)
	if err != nil {
		return nil, err
	}
	out := make([]Service, 0, len(dev.services))
	for _, uuid := range dev.services {
		out = append(out, Service{UUID: uuid})
	}
	return out, nil
}

// ListCharacteristics returns the characteristics of one service.
func (s *Simulator) ListCharacteristics(ctx context.Context, deviceID, serviceUUID string) ([]Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := s.connected(deviceID)
	if err != nil {
		return nil, err
	}
	chars, ok := dev.chars[normalize(serviceUUID)]
	if !ok {
		return nil, fmt.Errorf("%w: service %s", ErrNotFound, serviceUUID)
	}
	out := make([]Characteristic, 0, len(chars))
	for _, ch := range chars {
		c := ch.Characteristic
		c.Properties = append([]string(nil), ch.Properties...)
		out = append(out, c)
	}
	return out, nil
}

// Read returns the characteristic's current value.
func (s *Simulator) Read(ctx context.Context, deviceID, charUUID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.characteristic(deviceID, charUUID)
	if err != nil {
		return nil, err
	}
	if !ch.Has(PropRead) {
		return nil, fmt.Errorf("%w: characteristic %s", ErrNotReadable, charUUID)
	}
	return append([]byte(nil), ch.value...), nil
}

// Write replaces the characteristic's value.
func (s *Simulator) Write(ctx context.Context, deviceID, charUUID string, data []byte, withoutResponse bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.characteristic(deviceID, charUUID)
	if err != nil {
		return err
	}
	prop := PropWrite
	if withoutResponse {
		prop = PropWriteWithoutResponse
	}
	if !ch.Has(prop) {
		return fmt.Errorf("%w: characteristic %s", ErrNotWritable, charUUID)
	}
	ch.value = append([]byte(nil), data...)
	return nil
}

// Subscribe registers l for notifications. The first listener on a
// characteristic with a notify interval starts its ticker.
func (s *Simulator) Subscribe(ctx context.Context, deviceID, charUUID string, l *Listener) error {
	if l == nil || l.OnData == nil {
		return fmt.Errorf("%w: listener without callback", ErrNotSupported)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.characteristic(deviceID, charUUID)
	if err != nil {
		return err
	}
	if !ch.Has(PropNotify) && !ch.Has(PropIndicate) {
		return fmt.Errorf("%w: characteristic %s", ErrNotSupported, charUUID)
	}

	k := key(deviceID, charUUID)
	sub, ok := s.subs[k]
	if !ok {
		sub = &subscription{listeners: make(map[*Listener]struct{})}
		s.subs[k] = sub
		if ch.interval > 0 && !s.closed {
			tickCtx, stop := context.WithCancel(context.Background())
			sub.stop = stop
			go s.tick(tickCtx, deviceID, ch.UUID, ch.interval)
		}
	}
	sub.listeners[l] = struct{}{}
	s.logger.Debug("listener subscribed", "key", k, "listener_id", l.ID)
	return nil
}

// Unsubscribe removes l. Removing an unknown listener is not an error.
func (s *Simulator) Unsubscribe(ctx context.Context, deviceID, charUUID string, l *Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.device(deviceID); err != nil {
		return err
	}

	k := key(deviceID, charUUID)
	sub, ok := s.subs[k]
	if !ok {
		return nil
	}
	delete(sub.listeners, l)
	if len(sub.listeners) == 0 {
		if sub.stop != nil {
			sub.stop()
		}
		delete(s.subs, k)
	}
	return nil
}

// Notify sets the characteristic's value and delivers data to its
// listeners. It returns the number of listeners notified.
func (s *Simulator) Notify(deviceID, charUUID string, data []byte) int {
	s.mu.Lock()
	if dev, ok := s.devices[deviceID]; ok {
		if ch, ok := dev.byUUID[normalize(charUUID)]; ok {
			ch.value = append([]byte(nil), data...)
		}
	}
	var targets []*Listener
	if sub, ok := s.subs[key(deviceID, charUUID)]; ok {
		targets = make([]*Listener, 0, len(sub.listeners))
		for l := range sub.listeners {
			targets = append(targets, l)
		}
	}
	s.mu.Unlock()

	for _, l := range targets {
		l.OnData(append([]byte(nil), data...))
	}
	return len(targets)
}

// ListenerCount returns how many listeners are registered on a characteristic.
func (s *Simulator) ListenerCount(deviceID, charUUID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[key(deviceID, charUUID)]; ok {
		return len(sub.listeners)
	}
	return 0
}

// tick notifies an incrementing big-endian uint32 counter every interval.
func (s *Simulator) tick(ctx context.Context, deviceID, charUUID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var counter uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counter++
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, counter)
			s.Notify(deviceID, charUUID, buf)
		}
	}
}

// Close stops every notify ticker.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for k, sub := range s.subs {
		if sub.stop != nil {
			sub.stop()
		}
		delete(s.subs, k)
	}
	return nil
}
