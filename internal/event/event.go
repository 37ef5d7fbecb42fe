// Package event defines the closed catalogue of domain events that producers
// may emit. There are no dynamic event types: routing and subscription
// validation are checked against this list.
package event

import "fmt"

type Kind string

const (
	OrderCreated          Kind = "order.created"
	OrderConfirmed        Kind = "order.confirmed"
	OrderCancelled        Kind = "order.cancelled"
	ShipmentCreated       Kind = "shipment.created"
	ShipmentPickedUp      Kind = "shipment.picked_up"
	ShipmentInTransit     Kind = "shipment.in_transit"
	ShipmentOutForDelivery Kind = "shipment.out_for_delivery"
	ShipmentDelivered     Kind = "shipment.delivered"
	ShipmentNDRRaised     Kind = "shipment.ndr_raised"
	NDRResolved           Kind = "ndr.resolved"
	ReturnInitiated       Kind = "return.initiated"
	ReturnCompleted       Kind = "return.completed"
)

var all = []Kind{
	OrderCreated,
	OrderConfirmed,
	OrderCancelled,
	ShipmentCreated,
	ShipmentPickedUp,
	ShipmentInTransit,
	ShipmentOutForDelivery,
	ShipmentDelivered,
	ShipmentNDRRaised,
	NDRResolved,
	ReturnInitiated,
	ReturnCompleted,
}

// All returns the catalogue in a stable order.
func All() []Kind {
	out := make([]Kind, len(all))
	copy(out, all)
	return out
}

// Valid reports whether k is a catalogue member.
func Valid(k Kind) bool {
	for _, m := range all {
		if m == k {
			return true
		}
	}
	return false
}

// Parse converts a raw string into a catalogue member.
func Parse(s string) (Kind, error) {
	k := Kind(s)
	if !Valid(k) {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

func (k Kind) String() string { return string(k) }
