// Package config loads the keygate server configuration from a YAML file.
//
// # Configuration Format
//
// The config file supports environment variable expansion using ${VAR_NAME}
// syntax and Go duration strings for time values:
//
//	server:
//	  http_addr: ":8080"
//
//	database:
//	  path: /var/lib/keygate/registry.db
//
//	tokens:
//	  namespace: keygate
//	  ttl: 15m
//	  clock_skew: 30s
//
//	tailscale:
//	  enabled: false
//	  hostname: keygate
//	  auth_key: ${TS_AUTHKEY}
//
//	logging:
//	  level: info
//	  format: text
//
// Token lifetime and clock skew are policy, not protocol: both default to
// sane values (15m, 30s) and can be tuned per deployment.
package config
