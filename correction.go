package hdrhistogram

// recordWithCorrection implements the coordinated-omission correction
// described in spec §4.3: record v, then synthesize one phantom sample at
// each of v-expectedInterval, v-2*expectedInterval, ... while the
// synthesized value remains >= expectedInterval. record is the concrete
// integer histogram variant's single-value recorder, so the same
// correction logic drives Histogram, ConcurrentHistogram and the integer
// recorders without duplicating the loop. DoubleHistogram does not use it:
// its RecordCorrectedValue runs its own copy of the loop over float64
// values.
func recordWithCorrection(record func(int64) error, v, expectedInterval int64) error {
	if err := record(v); err != nil {
		return err
	}
	if expectedInterval <= 0 || v <= expectedInterval {
		return nil
	}
	missing := v - expectedInterval
	for missing >= expectedInterval {
		if err := record(missing); err != nil {
			return err
		}
		missing -= expectedInterval
	}
	return nil
}
