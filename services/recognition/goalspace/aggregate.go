// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package goalspace

import "fmt"

// Aggregator combines the per-group probabilities of a fact owned by
// several groups into one value. It is never called with an empty slice.
type Aggregator func(probs []float64) float64

// Max returns the highest group probability.
func Max(probs []float64) float64 {
	best := probs[0]
	for _, p := range probs[1:] {
		if p > best {
			best = p
		}
	}
	return best
}

// Min returns the lowest group probability.
func Min(probs []float64) float64 {
	best := probs[0]
	for _, p := range probs[1:] {
		if p < best {
			best = p
		}
	}
	return best
}

// Average returns the mean group probability.
func Average(probs []float64) float64 {
	var sum float64
	for _, p := range probs {
		sum += p
	}
	return sum / float64(len(probs))
}

// ParseAggregator maps a configuration name to an Aggregator.
//
// Accepted names are "max", "min" and "average".
func ParseAggregator(name string) (Aggregator, error) {
	switch name {
	case "max":
		return Max, nil
	case "min":
		return Min, nil
	case "average", "":
		return Average, nil
	default:
		return nil, fmt.Errorf("unknown aggregation %q", name)
	}
}
