// Package statusmap classifies raw carrier events into order lifecycle states.
package statusmap

import (
	"strings"

	"github.com/BearBump/TrackSync/internal/models"
)

// Коды Correios (SRO). Описание события остаётся основным сигналом, код служит дополнительным.
var (
	deliveredCodes = map[string]struct{}{
		"BDE": {},
		"BDI": {},
	}
	outForDeliveryCodes = map[string]struct{}{
		"OEC": {},
	}
	inTransitCodes = map[string]struct{}{
		"RO":  {},
		"DO":  {},
		"TRI": {},
	}
	postedCode = "PO"
)

var (
	deliveredHints      = []string{"entregue"}
	outForDeliveryHints = []string{"saiu para entrega", "out for delivery"}
	inTransitHints      = []string{"em trânsito", "em transito", "encaminhado"}
	shippedHints        = []string{"postado", "postagem"}
)

// MapEvent maps a carrier event to an order status. First matching rule wins.
func MapEvent(code, description string) models.OrderStatus {
	c := normCode(code)
	d := strings.ToLower(description)

	switch {
	case isDelivered(c, d):
		return models.OrderStatusDelivered
	case containsAny(d, outForDeliveryHints) || inSet(c, outForDeliveryCodes):
		return models.OrderStatusOutForDelivery
	case containsAny(d, inTransitHints) || inSet(c, inTransitCodes):
		return models.OrderStatusInTransit
	case containsAny(d, shippedHints) || c == postedCode:
		return models.OrderStatusShipped
	default:
		return models.OrderStatusProcessing
	}
}

// IsDelivered reports whether the event means the parcel reached the recipient.
func IsDelivered(code, description string) bool {
	return isDelivered(normCode(code), strings.ToLower(description))
}

func isDelivered(code, lowerDesc string) bool {
	return containsAny(lowerDesc, deliveredHints) || inSet(code, deliveredCodes)
}

func normCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func inSet(code string, set map[string]struct{}) bool {
	_, ok := set[code]
	return ok
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
