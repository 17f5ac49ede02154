package fetch

// batchSpec is one capped sub-request: count rows starting at the given
// backwards offset.
type batchSpec struct {
	index  int
	offset int
	count  int
}

// partition tiles [0, total) into batches of at most cap rows. The resulting
// (offset, count) pairs have no gaps and no overlaps.
func partition(total, cap int) []batchSpec {
	if total <= 0 || cap <= 0 {
		return nil
	}
	numBatches := (total + cap - 1) / cap
	batches := make([]batchSpec, 0, numBatches)
	for i := 0; i < numBatches; i++ {
		offset := i * cap
		count := cap
		if offset+count > total {
			count = total - offset
		}
		batches = append(batches, batchSpec{index: i, offset: offset, count: count})
	}
	return batches
}
