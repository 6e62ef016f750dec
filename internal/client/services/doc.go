// Package services contains the application services of the chatkeeper
// client core:
//
//   - AuthService unlocks the account-bound local secret from a passphrase;
//   - KeyService loads the personal key pair and runs key recovery, turning
//     wrapped member blobs into conversation keys in the vault;
//   - PairingService moves the personal key pair to a second device;
//   - MessageService decrypts cached messages for display.
//
// All methods honor context cancellation.
package services
