// ABOUTME: BLE manager interface consumed by the gateway, plus its data types and errors.
// ABOUTME: Error messages double as the wire codes reported to clients.

package ble

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Errors a Manager may return. Their messages are sent to clients as codes.
var (
	ErrNotFound         = errors.New("not_found")
	ErrAlreadyConnected = errors.New("already_connected")
	ErrNotConnected     = errors.New("not_connected")
	ErrNotReadable      = errors.New("not_readable")
	ErrNotWritable      = errors.New("not_writable")
	ErrNotSupported     = errors.New("not_supported")
)

var codes = []error{
	ErrNotFound,
	ErrAlreadyConnected,
	ErrNotConnected,
	ErrNotReadable,
	ErrNotWritable,
	ErrNotSupported,
}

// Code returns the wire code for err: the matching sentinel's message, or
// err's own message for errors from other implementations.
func Code(err error) string {
	for _, sentinel := range codes {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// DeviceSummary describes a peripheral.
type DeviceSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RSSI      int    `json:"rssi"`
	Connected bool   `json:"connected"`
}

// Service is a GATT service.
type Service struct {
	UUID string `json:"uuid"`
}

// Characteristic is a GATT characteristic.
type Characteristic struct {
	UUID        string   `json:"uuid"`
	ServiceUUID string   `json:"serviceUuid"`
	Properties  []string `json:"properties"`
}

// Characteristic properties.
const (
	PropRead                 = "read"
	PropWrite                = "write"
	PropWriteWithoutResponse = "write_without_response"
	PropNotify               = "notify"
	PropIndicate             = "indicate"
)

// Has reports whether the characteristic has property p.
func (c Characteristic) Has(p string) bool {
	for _, prop := range c.Properties {
		if prop == p {
			return true
		}
	}
	return false
}

// Listener receives notification data for one subscription. Managers
// identify listeners by pointer, so the same *Listener must be passed to
// Unsubscribe.
type Listener struct {
	ID     string
	OnData func(data []byte)
}

// NewListener creates a listener with a fresh id.
func NewListener(onData func(data []byte)) *Listener {
	return &Listener{ID: uuid.NewString(), OnData: onData}
}

// Manager is the BLE collaborator. Implementations serialize their own
// hardware access.
type Manager interface {
	ListDevices(ctx context.Context) ([]DeviceSummary, error)
	Connect(ctx context.Context, deviceID string) (DeviceSummary, error)
	Disconnect(ctx context.Context, deviceID string) error
	ListServices(ctx context.Context, deviceID string) ([]Service, error)
	ListCharacteristics(ctx context.Context, deviceID, serviceUUID string) ([]Characteristic, error)
	Read(ctx context.Context, deviceID, charUUID string) ([]byte, error)
	Write(ctx context.Context, deviceID, charUUID string, data []byte, withoutResponse bool) error
	Subscribe(ctx context.Context, deviceID, charUUID string, l *Listener) error
	Unsubscribe(ctx context.Context, deviceID, charUUID string, l *Listener) error
}
