package features

import "math"

// paddedHannWindow is a symmetric Hann window of length win, zero-padded on
// both sides to nfft.
func paddedHannWindow(win, nfft int) []float64 {
	w := make([]float64, nfft)
	offset := (nfft - win) / 2
	for i := 0; i < win; i++ {
		if win == 1 {
			w[offset] = 1
			break
		}
		w[offset+i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(win-1))
	}
	return w
}

const (
	slaneyHzPerMel = 200.0 / 3
	slaneyMinLogHz = 1000.0
	slaneyMinLog   = slaneyMinLogHz / slaneyHzPerMel
)

var slaneyLogStep = math.Log(6.4) / 27.0

// hzToMel uses the Slaney scale: linear below 1 kHz, logarithmic above.
func hzToMel(hz float64) float64 {
	if hz >= slaneyMinLogHz {
		return slaneyMinLog + math.Log(hz/slaneyMinLogHz)/slaneyLogStep
	}
	return hz / slaneyHzPerMel
}

func melToHz(mel float64) float64 {
	if mel >= slaneyMinLog {
		return slaneyMinLogHz * math.Exp(slaneyLogStep*(mel-slaneyMinLog))
	}
	return mel * slaneyHzPerMel
}

// melCenters returns the numMels+2 filter edge frequencies in Hz.
func melCenters(numMels int, lowFreq, highFreq float64) []float64 {
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)
	points := make([]float64, numMels+2)
	step := (highMel - lowMel) / float64(numMels+1)
	for i := range points {
		points[i] = melToHz(lowMel + float64(i)*step)
	}
	return points
}

// slaneyMelBank builds [numMels][nfft/2+1] triangular filters with Slaney
// area normalisation.
func slaneyMelBank(numMels, nfft, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	bins := nfft/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / float64(nfft)
	}

	edges := melCenters(numMels, lowFreq, highFreq)

	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		enorm := 2.0 / (right - left)

		filter := make([]float64, bins)
		for k, f := range fftFreqs {
			lower := (f - left) / (center - left)
			upper := (right - f) / (right - center)
			w := math.Min(lower, upper)
			if w > 0 {
				filter[k] = w * enorm
			}
		}
		bank[m] = filter
	}
	return bank
}
