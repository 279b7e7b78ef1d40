package marketdata

// Series is a view of an instrument's sealed candles plus the forming one.
type Series struct {
	Sealed  []Candle
	Forming *Candle
}

// LastSealed returns the n most recent sealed candles, newest first.
func (s Series) LastSealed(n int) []Candle {
	if n <= 0 || len(s.Sealed) < n {
		return nil
	}
	out := make([]Candle, 0, n)
	for i := len(s.Sealed) - 1; i >= len(s.Sealed)-n; i-- {
		out = append(out, s.Sealed[i])
	}
	return out
}
