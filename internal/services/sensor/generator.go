package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	// humidityGainPerMin is added per minute while the relay is open.
	humidityGainPerMin = 0.6

	defaultHumidity    = 45.0
	defaultTemperature = 18.0

	// temperatureSwing is the half amplitude of the day/night cycle.
	temperatureSwing = 6.0
)

// SimulatedReader produces plausible readings for nodes without sensor
// hardware. Humidity decays over time and rises while watering; temperature
// follows a daily curve peaking mid afternoon.
type SimulatedReader struct {
	mu          sync.Mutex
	seeded      bool
	last        time.Time
	humidity    float64
	base        float64
	decayPerMin float64

	watering func() bool
	now      func() time.Time
	rnd      *rand.Rand
}

// NewSimulatedReader returns a reader whose humidity drops by decayPerMin
// points per minute while dry. watering may be nil.
func NewSimulatedReader(decayPerMin float64, watering func() bool) *SimulatedReader {
	return &SimulatedReader{
		humidity:    defaultHumidity,
		base:        defaultTemperature,
		decayPerMin: math.Max(0, decayPerMin),
		watering:    watering,
		now:         time.Now,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *SimulatedReader) Read() (Reading, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.seeded {
		g.last = now
		g.seeded = true
	}
	dtMin := math.Max(0, now.Sub(g.last).Minutes())
	g.last = now

	if g.watering != nil && g.watering() {
		g.humidity = clamp(g.humidity+humidityGainPerMin*dtMin, 0, 100)
	} else {
		g.humidity = clamp(g.humidity-g.decayPerMin*dtMin, 0, 100)
	}

	hour := float64(now.Hour()) + float64(now.Minute())/60
	temp := g.base + temperatureSwing*math.Sin((hour-9)*math.Pi/12)
	temp += (g.rnd.Float64() - 0.5) * 0.2

	return Reading{TemperatureC: temp, HumidityPct: g.humidity}, nil
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
