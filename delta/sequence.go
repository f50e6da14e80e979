package delta

// Reverse returns the deltas in reverse order.
func Reverse(deltas []Delta) []Delta {
	res := make([]Delta, len(deltas))
	for i, d := range deltas {
		res[len(deltas)-1-i] = d
	}
	return res
}
