// Package cli implements the chatkeeper command-line client.
//
// The root command binds configuration flags; every subcommand builds an
// App from the loaded config, which wires the local cache, the session,
// the transports and the services. Commands:
//
//   - unlock-setup: configure the passphrase protecting local secrets
//   - keys create: create the personal key pair on the first device
//   - pair init / transfer / join: move the personal key pair to a new device
//   - sync: run sync cycles and live subscriptions until interrupted
//   - messages: print the cached messages of a conversation
package cli
