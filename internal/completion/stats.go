package completion

import "math"

// Estimate summarizes the mean of one sample series.
type Estimate struct {
	N         int     `json:"n"`
	NEff      float64 `json:"n_eff"`
	Mean      float64 `json:"mean"`
	Variance  float64 `json:"variance"`
	StdError  float64 `json:"std_error"`
	HalfWidth float64 `json:"half_width"`
}

// Estimate computes the mean and confidence half-width of x with the
// given estimator. With fewer than two samples only N and Mean are set; such
// an estimate never converges.
func (e Estimator) Estimate(x []float64, confidence float64) Estimate {
	n := len(x)
	est := Estimate{N: n, NEff: float64(n)}
	if n == 0 {
		return est
	}

	var sum float64
	for _, v := range x {
		sum += v
	}
	mean := sum / float64(n)
	est.Mean = mean
	if n < 2 {
		return est
	}

	var ss float64
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	est.Variance = ss / float64(n-1)

	if e == EstimatorAutocorrelated && ss > 0 {
		var lag float64
		for i := 0; i+1 < n; i++ {
			lag += (x[i] - mean) * (x[i+1] - mean)
		}
		rho := min(max(lag/ss, 0), 1-1e-12)
		est.NEff = float64(n) * (1 - rho) / (1 + rho)
	}

	est.StdError = math.Sqrt(est.Variance / est.NEff)
	est.HalfWidth = zScore(confidence) * est.StdError
	return est
}
