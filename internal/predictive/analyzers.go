package predictive

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Trend direction epsilons. Regression slopes inside the band count as
// stable.
const (
	errorRateEpsilon    = 0.001
	responseTimeEpsilon = 5.0 // milliseconds per step
)

// candidate is an analyzer's raw finding before it becomes a Prediction.
type candidate struct {
	provider          string
	predType          PredictionType
	anomalyScore      float64
	increasing        bool
	estimateMinutes   float64
	indicators        []string
	recommendedAction string
}

// severity ranks the candidate from its anomaly score and trend.
func (c candidate) severity() Severity {
	switch {
	case c.anomalyScore > 2 && c.increasing:
		return SeverityCritical
	case c.anomalyScore > 1.5 || c.increasing:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// confidence derives a [0,1] score from the strength of the signal.
func (c candidate) confidence() float64 {
	conf := 0.5
	if c.increasing {
		conf += 0.2
	}
	conf += math.Min(c.anomalyScore/10, 0.3)
	if conf > 1 {
		conf = 1
	}
	return conf
}

// timeframe bounds the expected incident: estimate clamped to [5,60]
// minutes out, window margin to [10,20] minutes either side.
func (c candidate) timeframe(now time.Time) Timeframe {
	est := math.Min(math.Max(c.estimateMinutes, 5), 60)
	margin := math.Min(math.Max(est/3, 10), 20)

	expected := now.Add(time.Duration(est) * time.Minute)
	m := time.Duration(margin) * time.Minute
	return Timeframe{
		Expected:    expected,
		WindowStart: expected.Add(-m),
		WindowEnd:   expected.Add(m),
	}
}

// analyzeProvider runs the four independent analyzers over one provider's
// history and returns every candidate they produce.
func (e *Engine) analyzeProvider(name string, hist []Sample) []candidate {
	var out []candidate
	if c, ok := e.analyzeErrorTrend(name, hist); ok {
		out = append(out, c)
	}
	if c, ok := e.analyzeResponseTrend(name, hist); ok {
		out = append(out, c)
	}
	if c, ok := e.analyzeSpikes(name, hist); ok {
		out = append(out, c)
	}
	if c, ok := e.analyzeBreakerFlapping(name, hist); ok {
		out = append(out, c)
	}
	return out
}

// analyzeErrorTrend fits a regression over recent error rates and flags a
// failure candidate when the rate is rising toward the adjusted threshold.
func (e *Engine) analyzeErrorTrend(name string, hist []Sample) (candidate, bool) {
	rates := make([]float64, len(hist))
	for i, s := range hist {
		rates[i] = s.ErrorRate
	}

	slope := regressionSlope(rates)
	increasing := slope > errorRateEpsilon

	current := rates[len(rates)-1]
	mean, std := stat.MeanStdDev(rates, nil)
	score := anomalyScore(current, mean, std)

	forecast := current + slope // one step ahead
	adjusted := e.config.ErrorRateThreshold * e.config.Sensitivity.thresholdMultiplier()

	if !increasing || (current <= 0.5*adjusted && forecast <= adjusted) {
		return candidate{}, false
	}

	// minutes until the error rate crosses the threshold at the current slope
	est := 30.0
	if slope > 0 {
		steps := (adjusted - current) / slope
		est = steps * e.config.CollectionInterval.Minutes()
	}

	return candidate{
		provider:        name,
		predType:        PredictionFailure,
		anomalyScore:    score,
		increasing:      true,
		estimateMinutes: est,
		indicators: []string{
			fmt.Sprintf("error rate %.4f rising at %.5f/step", current, slope),
			fmt.Sprintf("threshold %.4f", adjusted),
		},
		recommendedAction: "investigate upstream errors; consider pre-emptive failover",
	}, true
}

// analyzeResponseTrend flags a degradation candidate when latency has
// drifted up by more than the adjusted ratio over its own average.
func (e *Engine) analyzeResponseTrend(name string, hist []Sample) (candidate, bool) {
	times := make([]float64, len(hist))
	for i, s := range hist {
		times[i] = float64(s.ResponseTime.Milliseconds())
	}

	slope := regressionSlope(times)
	increasing := slope > responseTimeEpsilon

	current := times[len(times)-1]
	mean, std := stat.MeanStdDev(times, nil)
	if mean <= 0 {
		return candidate{}, false
	}

	ratio := (current - mean) / mean
	adjusted := e.config.DegradationThreshold * e.config.Sensitivity.thresholdMultiplier()
	if ratio <= adjusted {
		return candidate{}, false
	}

	return candidate{
		provider:        name,
		predType:        PredictionDegradation,
		anomalyScore:    anomalyScore(current, mean, std),
		increasing:      increasing,
		estimateMinutes: 20,
		indicators: []string{
			fmt.Sprintf("response time %.0fms, %.0f%% over average", current, ratio*100),
		},
		recommendedAction: "tune timeouts or shed load before latency breaches SLAs",
	}, true
}

// analyzeSpikes runs z-score spike detection over both series.
func (e *Engine) analyzeSpikes(name string, hist []Sample) (candidate, bool) {
	rates := make([]float64, len(hist))
	times := make([]float64, len(hist))
	for i, s := range hist {
		rates[i] = s.ErrorRate
		times[i] = float64(s.ResponseTime.Milliseconds())
	}

	spikes := countSpikes(rates) + countSpikes(times)
	if spikes == 0 {
		return candidate{}, false
	}

	mean, std := stat.MeanStdDev(rates, nil)
	return candidate{
		provider:        name,
		predType:        PredictionSpike,
		anomalyScore:    anomalyScore(rates[len(rates)-1], mean, std),
		increasing:      false,
		estimateMinutes: 15,
		indicators: []string{
			fmt.Sprintf("%d metric spikes beyond 2 standard deviations", spikes),
		},
		recommendedAction: "check for intermittent upstream faults or rate limiting",
	}, true
}

// analyzeBreakerFlapping flags a pattern anomaly when the breaker changed
// state more than twice inside the sample window.
func (e *Engine) analyzeBreakerFlapping(name string, hist []Sample) (candidate, bool) {
	changes := 0
	for i := 1; i < len(hist); i++ {
		if hist[i].BreakerState != hist[i-1].BreakerState {
			changes++
		}
	}
	if changes <= 2 {
		return candidate{}, false
	}

	return candidate{
		provider:        name,
		predType:        PredictionPatternAnomaly,
		anomalyScore:    float64(changes),
		increasing:      true,
		estimateMinutes: 10,
		indicators: []string{
			fmt.Sprintf("circuit breaker changed state %d times in window", changes),
		},
		recommendedAction: "widen breaker reset timeout or fail over while the provider stabilizes",
	}, true
}

// regressionSlope fits y = a + b*x over sample index and returns b.
func regressionSlope(ys []float64) float64 {
	if len(ys) < 2 {
		return 0
	}
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(beta) {
		return 0
	}
	return beta
}

func anomalyScore(current, mean, std float64) float64 {
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return math.Abs(current-mean) / std
}

func countSpikes(vs []float64) int {
	mean, std := stat.MeanStdDev(vs, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	n := 0
	for _, v := range vs {
		if math.Abs(v-mean) > 2*std {
			n++
		}
	}
	return n
}
