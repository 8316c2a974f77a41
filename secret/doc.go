// Package secret resolves credentials referenced from configuration.
//
// It supports:
//   - Strict environment expansion (see ExpandEnvStrict)
//   - Pluggable secret providers (see Provider and Registry)
//   - Resolving secret references in configuration values (see Resolver)
//
// References use the prefix "secretref:":
//   - Full value:  secretref:env:QUOTELINK_TOKEN
//   - From a file: secretref:file:/run/secrets/quotelink_token
//   - Inline use:  Bearer secretref:dotenv:API_TOKEN
package secret
