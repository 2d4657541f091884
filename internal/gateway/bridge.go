// ABOUTME: BLE bridge handlers forwarding mcp.ble.* requests to the BLE manager.
// ABOUTME: Notifications go only to the subscribing connection as mcp.ble.notification.

package gateway

import (
	"context"
	"time"

	"github.com/2389/ble-gateway/internal/ble"
	"github.com/2389/ble-gateway/internal/protocol"
)

// DeviceRequest names a device.
type DeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

// ServiceRequest names a device service.
type ServiceRequest struct {
	DeviceID    string `json:"deviceId"`
	ServiceUUID string `json:"serviceUuid"`
}

// CharacteristicRequest names a device characteristic.
type CharacteristicRequest struct {
	DeviceID           string `json:"deviceId"`
	CharacteristicUUID string `json:"characteristicUuid"`
}

// WriteRequest is the payload of mcp.ble.write. Data is base64 on the wire.
type WriteRequest struct {
	DeviceID           string `json:"deviceId"`
	CharacteristicUUID string `json:"characteristicUuid"`
	Data               []byte `json:"data"`
	WithoutResponse    bool   `json:"withoutResponse"`
}

// ReadResponse is the payload of mcp.ble.read.result.
type ReadResponse struct {
	DeviceID           string `json:"deviceId"`
	CharacteristicUUID string `json:"characteristicUuid"`
	Data               []byte `json:"data"`
}

// SubscriptionResponse is the payload of mcp.ble.subscribe.ok and mcp.ble.unsubscribe.ok.
type SubscriptionResponse struct {
	Key string `json:"key"`
}

func subscriptionKey(deviceID, charUUID string) string {
	return deviceID + ":" + charUUID
}

func (r *router) handleBLEDevices(ctx context.Context, req *request) {
	devices, err := r.gw.ble.ListDevices(ctx)
	if err != nil {
		req.fail(&bleError{err})
		return
	}
	if devices == nil {
		devices = []ble.DeviceSummary{}
	}
	req.reply(map[string]any{"devices": devices})
}

func (r *router) handleBLEConnect(ctx context.Context, req *request) {
	var p DeviceRequest
	if !req.bind(&p) || !req.require(field{"deviceId", p.DeviceID}) {
		return
	}
	device, err := r.gw.ble.Connect(ctx, p.DeviceID)
	if err != nil {
		req.fail(&bleError{err})
		return
	}
	req.reply(map[string]any{"device": device})
}

func (r *router) handleBLEDisconnect(ctx context.Context, req *request) {
	var p DeviceRequest
	if !req.bind(&p) || !req.require(field{"deviceId", p.DeviceID}) {
		return
	}
	if err := r.gw.ble.Disconnect(ctx, p.DeviceID); err != nil {
		req.fail(&bleError{err})
		return
	}
	req.reply(DeviceRequest{DeviceID: p.DeviceID})
}

func (r *router) handleBLEServices(ctx context.Context, req *request) {
	var p DeviceRequest
	if !req.bind(&p) || !req.require(field{"deviceId", p.DeviceID}) {
		return
	}
	services, err := r.gw.ble.ListServices(ctx, p.DeviceID)
	if err != nil {
		req.fail(&bleError{err})
		return
	}
	if services == nil {
		services = []ble.Service{}
	}
	req.reply(map[string]any{"services": services})
}

func (r *router) handleBLECharacteristics(ctx context.Context, req *request) {
	var p ServiceRequest
	if !req.bind(&p) || !req.require(field{"deviceId", p.DeviceID}, field{"serviceUuid", p.ServiceUUID}) {
		return
	}
	chars, err := r.gw.ble.ListCharacteristics(ctx, p.DeviceID, p.ServiceUUID)
	if err != nil {
		req.fail(&bleError{err})
		return
	}
	if chars == nil {
		chars = []ble.Characteristic{}
	}
	req.reply(map[string]any{"characteristics": chars})
}

func (r *router) handleBLERead(ctx context.Context, req *request) {
	var p CharacteristicRequest
	if !req.bind(&p) || !req.require(field{"deviceId", p.DeviceID}, field{"characteristicUuid", p.CharacteristicUUID}) {
		return
	}
	data, err := r.gw.ble.Read(ctx, p.DeviceID, p.CharacteristicUUID)
	if err != nil {
		req.fail(&bleError{err})
		return
	}
	if data == nil {
		data = []byte{}
	}
	req.reply(ReadResponse{DeviceID: p.DeviceID, CharacteristicUUID: p.CharacteristicUUID, Data: data})
}

func (r *router) handleBLEWrite(ctx context.Context, req *request) {
	var p WriteRequest
	if !req.bind(&p) || !req.require(field{"deviceId", p.DeviceID}, field{"characteristicUuid", p.CharacteristicUUID}) {
		return
	}
	if p.Data == nil {
		req.fail(missingField("data"))
		return
	}
	if err := r.gw.ble.Write(ctx, p.DeviceID, p.CharacteristicUUID, p.Data, p.WithoutResponse); err != nil {
		req.fail(&bleError{err})
		return
	}
	req.reply(CharacteristicRequest{DeviceID: p.DeviceID, CharacteristicUUID: p.CharacteristicUUID})
}

func (r *router) handleBLESubscribe(ctx context.Context, req *request) {
	var p CharacteristicRequest
	if !req.bind(&p) || !req.require(field{"deviceId", p.DeviceID}, field{"characteristicUuid", p.CharacteristicUUID}) {
		return
	}
	key, err := req.conn.subscribeBLE(ctx, p.DeviceID, p.CharacteristicUUID)
	if err != nil {
		req.fail(&bleError{err})
		return
	}
	req.reply(SubscriptionResponse{Key: key})
}

func (r *router) handleBLEUnsubscribe(ctx context.Context, req *request) {
	var p CharacteristicRequest
	if !req.bind(&p) || !req.require(field{"deviceId", p.DeviceID}, field{"characteristicUuid", p.CharacteristicUUID}) {
		return
	}
	key, err := req.conn.unsubscribeBLE(ctx, p.DeviceID, p.CharacteristicUUID)
	if err != nil {
		req.fail(&bleError{err})
		return
	}
	req.reply(SubscriptionResponse{Key: key})
}

// subscribeBLE registers a listener that forwards notifications to this
// connection. A previous listener on the same key is replaced once the new
// one is registered, so a failed re-subscribe keeps the old one.
func (c *Conn) subscribeBLE(ctx context.Context, deviceID, charUUID string) (string, error) {
	key := subscriptionKey(deviceID, charUUID)
	listener := ble.NewListener(func(data []byte) {
		env, err := protocol.NewEnvelope(protocol.TypeBLENotification, nil, protocol.BLENotificationPayload{
			DeviceID:           deviceID,
			CharacteristicUUID: charUUID,
			Data:               data,
			Timestamp:          protocol.FormatTimestamp(time.Now()),
		})
		if err != nil {
			c.logger.Error("encoding BLE notification", "key", key, "error", err)
			return
		}
		if err := c.Send(env); err != nil {
			c.logger.Debug("BLE notification dropped", "key", key, "error", err)
		}
	})

	if err := c.gw.ble.Subscribe(ctx, deviceID, charUUID, listener); err != nil {
		return "", err
	}

	c.bleMu.Lock()
	prev := c.bleSubs[key]
	c.bleSubs[key] = &bleSubscription{deviceID: deviceID, charUUID: charUUID, listener: listener}
	c.bleMu.Unlock()

	if prev != nil {
		if err := c.gw.ble.Unsubscribe(ctx, deviceID, charUUID, prev.listener); err != nil {
			c.logger.Warn("failed to release replaced BLE listener", "key", key, "error", err)
		}
	}
	c.logger.Debug("BLE subscription added", "key", key, "listener_id", listener.ID, "replaced", prev != nil)
	return key, nil
}

// unsubscribeBLE releases this connection's listener for the key, if any.
func (c *Conn) unsubscribeBLE(ctx context.Context, deviceID, charUUID string) (string, error) {
	key := subscriptionKey(deviceID, charUUID)

	c.bleMu.Lock()
	sub := c.bleSubs[key]
	delete(c.bleSubs, key)
	c.bleMu.Unlock()

	if sub == nil {
		return key, nil
	}
	if err := c.gw.ble.Unsubscribe(ctx, sub.deviceID, sub.charUUID, sub.listener); err != nil {
		return "", err
	}
	return key, nil
}

// bleSubscriptionCount returns how many characteristic subscriptions the connection holds.
func (c *Conn) bleSubscriptionCount() int {
	c.bleMu.Lock()
	defer c.bleMu.Unlock()
	return len(c.bleSubs)
}
