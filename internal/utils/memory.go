package utils

import (
	"math"
)

const connOverhead = 2.5 // websocket read/write buffers plus registry bookkeeping

// normalPDF is the standard normal PDF: mean = 0, std dev = 1
func normalPDF(x float64) float64 {
	return 1.0 / math.Sqrt(2.0*math.Pi) * math.Exp(-0.5*x*x)
}

// EstimateMemory approximates the total bytes held for N live connections
// whose per-connection footprint is normally distributed. It integrates
// 6 trapezoids from -3σ to +3σ of the standard normal.
func EstimateMemory(
	numConns int, // number of live connections
	meanBytes int, // average per-connection footprint in bytes (μ)
	stdDevBytes int, // standard deviation in bytes (σ)
) uint64 {
	if numConns <= 0 || meanBytes < 0 || stdDevBytes < 0 {
		return 0
	}

	n := float64(numConns)
	mu := float64(meanBytes)
	sigma := float64(stdDevBytes)

	// Breakpoints at x = -3, -2, -1, 0, 1, 2, 3 (standard deviations)
	xs := []float64{-3, -2, -1, 0, 1, 2, 3}
	pdfVals := make([]float64, len(xs))
	for i := range xs {
		pdfVals[i] = normalPDF(xs[i])
	}

	var totalFrac float64
	var totalMem float64

	for i := 0; i < 6; i++ {
		x0 := xs[i]
		x1 := xs[i+1]

		// fraction of the distribution in [x0, x1], trapezoid rule
		frac := 0.5 * (pdfVals[i] + pdfVals[i+1]) * (x1 - x0)
		mid := 0.5 * (x0 + x1)
		avgSize := mu + mid*sigma
		if avgSize < 0 {
			avgSize = 0
		}

		totalMem += frac * n * avgSize
		totalFrac += frac
	}

	// Integral of the standard normal from -3..3 is ~0.9973; rescale so the
	// tails are folded back in.
	const integralMinus3To3 = 0.9973
	scale := integralMinus3To3 / totalFrac

	return uint64(connOverhead * totalMem * scale)
}
