package domain

// Position is a read-only snapshot of a live exchange position. It is
// fetched on demand and never owned or mutated by this engine.
type Position struct {
	Symbol string
	Side   PositionSide
	// Quantity is signed on one-way venues (negative = short) and always
	// reported with its absolute value alongside Side.
	Quantity      float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// Open reports whether the snapshot represents live exposure.
func (p Position) Open() bool {
	return p.Quantity != 0
}

// AssetBalance is one asset's balance on the venue account.
type AssetBalance struct {
	Asset  string
	Free   float64
	Locked float64
}
