// Package hosttrust persists the host keys a client has decided to trust and
// decides, per connection attempt, whether an offered host key is acceptable.
//
// # Policies
//
//   - [PolicyOff]: every key is accepted and nothing is recorded.
//   - [PolicyStrict]: only keys already present in the store are accepted.
//   - [PolicyTOFU]: the first key seen for a host:port is recorded and
//     accepted; later keys must match it.
//
// # Storage
//
// Entries are kept in a single JSON document:
//
//	{"entries": {"example.com:22": {"host": "example.com", "port": 22,
//	  "fingerprint": "SHA256:...", "source": "tofu", "trustedAt": "..."}}}
//
// The file is loaded lazily on first use and again whenever the configured
// path changes. A missing or unreadable file yields an empty store. Every
// mutation is written back (temp file + rename) before the call returns.
package hosttrust
