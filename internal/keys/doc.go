// Package keys guards the agent's signing key. The raw key enters the
// process once through an environment variable, is encrypted under a
// passphrase-derived key, and afterwards only exists in plaintext for the
// instant a signature is produced. Nothing in this package offers a way to
// export, serialize, or log the key material.
package keys
