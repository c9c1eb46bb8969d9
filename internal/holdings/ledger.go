package holdings

// NextCostBasis applies the weighted-average cost basis rule to a quantity
// change.
//
// Only additions to a position blend into the average. A zero unit cost keeps
// the existing basis. Any other edit (reduction or flat re-entry) takes the
// entered unit cost as a basis correction; disposals are not accounted for.
func NextCostBasis(oldQuantity, oldBasis, newQuantity, newUnitCost float64) float64 {
	if newQuantity > oldQuantity && newUnitCost > 0 && newQuantity > 0 {
		added := newQuantity - oldQuantity
		return (oldQuantity*oldBasis + added*newUnitCost) / newQuantity
	}
	if newUnitCost == 0 {
		return oldBasis
	}
	return newUnitCost
}
