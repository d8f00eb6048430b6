package ebus

// AggregatorFunc sees every message on the bus and may publish derived
// topics.
type AggregatorFunc func(topic string, value float64)

type Aggregator struct {
	fun AggregatorFunc
}

func RegisterAggregator(aggs ...*Aggregator) {
	aggregatorsLock.Lock()
	defer aggregatorsLock.Unlock()
outer:
	for _, agg := range aggs {
		for _, existing := range aggregators {
			if existing == agg {
				continue outer
			}
		}
		aggregators = append(aggregators, agg)
	}
}

// DIFFAggregator publishes second-first on outputName once both inputs
// have reported since the last output.
func DIFFAggregator(first, second, outputName string) *Aggregator {
	var firstUpdated, secondUpdated bool
	var firstValue, secondValue float64
	return &Aggregator{
		fun: func(topic string, value float64) {
			if topic == first {
				firstValue = value
				firstUpdated = true
			}
			if topic == second {
				secondValue = value
				secondUpdated = true
			}
			if firstUpdated && secondUpdated {
				Publish(outputName, secondValue-firstValue)
				firstUpdated, secondUpdated = false, false
			}
		},
	}
}
