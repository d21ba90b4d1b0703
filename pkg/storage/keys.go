package storage

import (
	"fmt"
	"time"
)

// Key schema:
//
//	pos:<owner>:<market>          → position.Position
//	act:<positionID>              → trading.ActivePosition
//	stats:<owner>                 → risk.DailyStats
//	ord:<pair>:<orderID>          → orderbook.Order
//	fill:<pair>:<unixnano>:<id>   → orderbook.Fill
const (
	prefixPosition = "pos:"
	prefixActive   = "act:"
	prefixStats    = "stats:"
	prefixOrder    = "ord:"
	prefixFill     = "fill:"
)

func positionKey(owner, market string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixPosition, owner, market))
}

func activeKey(id string) []byte {
	return []byte(prefixActive + id)
}

func statsKey(owner string) []byte {
	return []byte(prefixStats + owner)
}

func orderKey(pair, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, pair, id))
}

// fillKey zero-pads the timestamp to 20 digits so keys sort chronologically.
func fillKey(pair string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixFill, pair, ts.UnixNano(), id))
}

func fillPrefix(pair string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixFill, pair))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
