package pointio

import (
	"github.com/pkg/errors"

	"uct2ccf/pkg/transform"
)

// TransformFile is the on-disk affine. It maps physical points of From onto To.
type TransformFile struct {
	Space       string        `json:"space"`
	Unit        string        `json:"unit"`
	From        string        `json:"from,omitempty"`
	To          string        `json:"to,omitempty"`
	Matrix      [3][3]float64 `json:"matrix"`
	Translation [3]float64    `json:"translation"`
}

// WriteTransform saves a physical-space affine in millimetres
func WriteTransform(path string, a transform.Affine, from, to string) error {
	return writeJSON(path, TransformFile{
		Space:       "physical",
		Unit:        "mm",
		From:        from,
		To:          to,
		Matrix:      a.Matrix,
		Translation: a.Translation,
	})
}

// ReadTransform loads and validates an affine written by WriteTransform
func ReadTransform(path string) (transform.Affine, error) {
	var f TransformFile
	if err := readJSON(path, &f); err != nil {
		return transform.Affine{}, err
	}
	if f.Space != "" && f.Space != "physical" {
		return transform.Affine{}, errors.Errorf("transform %v is in %q space, expected physical", path, f.Space)
	}
	a := transform.Affine{Matrix: f.Matrix, Translation: f.Translation}
	if err := a.Validate("read transform"); err != nil {
		return transform.Affine{}, errors.Wrapf(err, "invalid transform in %v", path)
	}
	return a, nil
}
