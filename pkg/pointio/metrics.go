package pointio

import (
	"uct2ccf/pkg/registration"
)

// MetricsFile is the registration report
type MetricsFile struct {
	Unit         string                  `json:"unit"`
	NumLandmarks int                     `json:"num_landmarks"`
	Mean         float64                 `json:"mean_error"`
	Std          float64                 `json:"std_error"`
	Min          float64                 `json:"min_error"`
	Max          float64                 `json:"max_error"`
	RMS          float64                 `json:"rms_error"`
	MaxIndex     int                     `json:"max_error_index"`
	Quality      registration.Quality    `json:"quality"`
	MaxOK        bool                    `json:"max_error_acceptable"`
	Residuals    []registration.Residual `json:"residuals"`
}

// WriteMetrics saves metrics with their advisory assessment
func WriteMetrics(path string, m registration.Metrics, a registration.Assessment) error {
	return writeJSON(path, MetricsFile{
		Unit:         m.Unit,
		NumLandmarks: len(m.Residuals),
		Mean:         m.Mean,
		Std:          m.Std,
		Min:          m.Min,
		Max:          m.Max,
		RMS:          m.RMS,
		MaxIndex:     m.MaxIndex,
		Quality:      a.Quality,
		MaxOK:        a.MaxAcceptable,
		Residuals:    m.Residuals,
	})
}

// ReadMetrics loads a metrics report
func ReadMetrics(path string) (MetricsFile, error) {
	var f MetricsFile
	err := readJSON(path, &f)
	return f, err
}
