package sensor

// maxSamples bounds the window while reports are paused.
const maxSamples = 360

// window buffers samples between two reports, keeping the newest maxSamples.
type window struct {
	samples []Reading
}

func (w *window) add(r Reading) {
	if len(w.samples) == maxSamples {
		w.samples = append(w.samples[:0], w.samples[1:]...)
	}
	w.samples = append(w.samples, r)
}

func (w *window) len() int { return len(w.samples) }

// mean returns the average of the buffered samples and empties the window.
func (w *window) mean() Reading {
	var sum Reading
	for _, s := range w.samples {
		sum.TemperatureC += s.TemperatureC
		sum.HumidityPct += s.HumidityPct
	}
	n := float64(len(w.samples))
	w.samples = w.samples[:0]
	if n == 0 {
		return sum
	}
	return Reading{TemperatureC: sum.TemperatureC / n, HumidityPct: sum.HumidityPct / n}
}
