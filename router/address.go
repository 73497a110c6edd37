package router

import (
	"fmt"

	"github.com/stellar/go-stellar-sdk/strkey"
)

// StellarAddressValidator accepts Stellar account ids: strkeys carrying the
// ed25519 public key version byte ('G') and a valid checksum.
type StellarAddressValidator struct{}

func (StellarAddressValidator) ValidateAddress(account string) error {
	if _, err := strkey.Decode(strkey.VersionByteAccountID, account); err != nil {
		return fmt.Errorf("invalid account address: %w", err)
	}
	return nil
}
