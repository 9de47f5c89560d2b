package dhcp

import "errors"

var (
	// ErrPoolExhausted is returned when no address is free.
	ErrPoolExhausted = errors.New("address pool exhausted")

	// ErrUnknownLease is returned when renewing an address with no active lease.
	ErrUnknownLease = errors.New("unknown lease")

	// ErrAddressNotInPool is returned for addresses outside the configured range.
	ErrAddressNotInPool = errors.New("address not in pool")

	// ErrAddressHeld is returned when an address belongs to another identity,
	// or when an identity already holds a different address.
	ErrAddressHeld = errors.New("address held by another identity")
)
