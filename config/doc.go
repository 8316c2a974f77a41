// Package config loads quotelink settings from YAML and the environment.
//
// Load reads an optional .env file first so its variables are visible to
// the ${VAR} expansion applied to the YAML text. ${VAR:-fallback} supplies
// a value for optional settings. Unknown YAML keys are an error. Defaults are applied after decoding, then Validate runs.
//
// A minimal file:
//
//	client:
//	  base_url: https://api.example.com/v1
//	  token: secretref:env:QUOTELINK_TOKEN
//	push:
//	  url: ${QUOTELINK_PUSH_URL:-wss://stream.example.com/v1}
//	cache:
//	  default_ttl: 30s
//
// The token may be a literal, a ${VAR} expansion or a secretref resolved
// through the providers listed under secrets.
package config
