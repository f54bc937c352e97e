package orderbook

// Crosses reports whether incoming may trade against resting at resting's
// price: a BUY needs an ask at or below its price, a SELL a bid at or
// above it.
func Crosses(incoming, resting *Order) bool {
	if incoming.Side == Buy {
		return resting.PricePerToken <= incoming.PricePerToken
	}
	return resting.PricePerToken >= incoming.PricePerToken
}

// FindMatch returns the resting counter-order that incoming should pair
// with, or nil.
//
// The opposite side is scanned in priority order and the scan stops at the
// first price that no longer crosses. Orders from the same maker are
// skipped, and only a resting order whose TokenAmount equals incoming's is
// eligible: partial fills are never produced.
func FindMatch(b *Book, incoming *Order) *Order {
	var found *Order
	b.Walk(incoming.Side.Opposite(), func(r *Order) bool {
		if !Crosses(incoming, r) {
			return false
		}
		if r.Maker == incoming.Maker || r.TokenAmount != incoming.TokenAmount {
			return true
		}
		found = r
		return false
	})
	return found
}
