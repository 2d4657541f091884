// Package config handles configuration loading for ble-gateway.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by file extension) with
// environment variable expansion. Defaults are applied for every option, so
// the gateway also runs with no file at all.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from BLE_GATEWAY_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/ble-gateway/gateway.yaml (~/.config when unset)
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  secret: "${BLE_GATEWAY_TOKEN}"
//
// BLE_GATEWAY_PORT and BLE_GATEWAY_SECRET override server.port and
// auth.secret after the file is read.
//
// # Configuration Sections
//
//	server:
//	  host: ""              # all interfaces
//	  port: 8765
//	  name: "ble-gateway"   # reported in mcp/handshake
//	  write_timeout: "10s"
//
//	auth:
//	  secret: ""            # empty: every connection is authenticated
//	  mode: "secret"        # secret, bcrypt, jwt
//
//	executions:
//	  max_retained: 0       # 0 keeps every execution record
//
//	journal:
//	  path: ""              # SQLite execution journal, disabled when empty
//
//	logging:
//	  level: "info"         # debug, info, warn, error
//	  format: "text"        # text, json
//
//	ble:
//	  devices:
//	    - id: "AA:BB:CC:DD:EE:01"
//	      name: "thermo"
//	      services:
//	        - uuid: "181a"
//	          characteristics:
//	            - uuid: "2a6e"
//	              properties: ["read", "notify"]
//	              notify_interval: "1s"
package config
