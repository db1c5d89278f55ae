// Package config provides configuration management for netpool providers.
//
// # Key Features
//
// - ProviderConfig: provider name, default pool, per host overrides, transport
// - PoolSpec: size, pending queue, timeouts, idle/life bounds, leasing strategy
// - Environment variable substitution with ${VAR_NAME} syntax
// - Defaults and validation
//
// # Usage
//
//	cfg, err := config.LoadProvider("netpool.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # YAML layout
//
//	name: backend
//	pool:
//	  max_connections: 32
//	  pending_acquire_max_count: 64
//	  pending_acquire_timeout: 5s
//	  max_idle_time: 30s
//	  leasing_strategy: lifo
//	hosts:
//	  "db.internal:5432":
//	    max_connections: 4
//	transport:
//	  connect_timeout: 3s
//	  proxy_address: ${SOCKS_PROXY}
//
// Absent durations leave the corresponding bound disabled. An absent
// pending_acquire_max_count resolves to twice max_connections.
package config
