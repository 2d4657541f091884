// ABOUTME: Registration helpers that install every built-in pack.
// ABOUTME: Called once by the serve command before the registry is sealed.

package builtins

import (
	"github.com/2389/ble-gateway/internal/ble"
	"github.com/2389/ble-gateway/internal/tools"
)

// Pack ids, as reported by tools.Registry.PackTools.
const (
	BasePackID = "builtin:base"
	BLEPackID  = "builtin:ble"
)

// RegisterAll registers the base pack, and the BLE pack when mgr is set.
func RegisterAll(reg *tools.Registry, mgr ble.Manager) error {
	if err := reg.RegisterPack(BasePack()); err != nil {
		return err
	}
	if mgr != nil {
		if err := reg.RegisterPack(BLEPack(mgr)); err != nil {
			return err
		}
	}
	return nil
}
