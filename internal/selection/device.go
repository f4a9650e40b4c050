package selection

import "github.com/yourorg/checkout-orchestrator/internal/remote"

// Capability is how ready the device is to pay with Apple Pay.
type Capability int

const (
	CapabilityUnavailable Capability = iota
	// CapabilityCardSetupRequired means the wallet exists but holds no card
	// of the given networks; the sheet will offer to add one.
	CapabilityCardSetupRequired
	CapabilityAvailable
)

// Device reports the wallet capability of the device for a set of card networks.
type Device interface {
	ApplePayCapability(networks []remote.PaymentSystem) Capability
}

// StaticDevice reports a fixed capability. Terminals and tests use it.
type StaticDevice struct {
	Capability Capability
}

// NewStaticDevice creates a StaticDevice.
func NewStaticDevice(c Capability) *StaticDevice {
	return &StaticDevice{Capability: c}
}

func (d *StaticDevice) ApplePayCapability(networks []remote.PaymentSystem) Capability {
	if len(networks) == 0 {
		return CapabilityUnavailable
	}
	return d.Capability
}
