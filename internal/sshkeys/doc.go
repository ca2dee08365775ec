// Package sshkeys generates ED25519 client key pairs for servers that
// authenticate by private key.
//
// The private key is written in OpenSSH format with 0600 permissions,
// optionally encrypted with a passphrase; the public key goes next to it with
// a ".pub" suffix in authorized_keys format, ready to be appended to the
// server's ~/.ssh/authorized_keys. Existing files are never overwritten.
package sshkeys
