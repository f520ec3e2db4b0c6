package dsp

// ApplyNotch removes a narrow band around targetHz from signal with zero-phase
// filtering. A target of zero or below disables the filter and returns signal
// unchanged.
func ApplyNotch(signal []float64, targetHz, q float64, sampleRate int) ([]float64, error) {
	if targetHz <= 0 {
		return signal, nil
	}
	b, err := Notch(targetHz, q, sampleRate)
	if err != nil {
		return signal, err
	}
	return b.FiltFilt(signal), nil
}
