package volumeio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"uct2ccf/internal/models"
)

// NRRD sample types
const (
	TypeUint8   = "uint8"
	TypeInt8    = "int8"
	TypeInt16   = "int16"
	TypeUint16  = "uint16"
	TypeInt32   = "int32"
	TypeUint32  = "uint32"
	TypeFloat32 = "float"
	TypeFloat64 = "double"
)

var typeAliases = map[string]string{
	"uchar": TypeUint8, "unsigned char": TypeUint8, "uint8": TypeUint8, "uint8_t": TypeUint8,
	"signed char": TypeInt8, "int8": TypeInt8, "int8_t": TypeInt8,
	"short": TypeInt16, "short int": TypeInt16, "signed short": TypeInt16, "int16": TypeInt16, "int16_t": TypeInt16,
	"ushort": TypeUint16, "unsigned short": TypeUint16, "uint16": TypeUint16, "uint16_t": TypeUint16,
	"int": TypeInt32, "signed int": TypeInt32, "int32": TypeInt32, "int32_t": TypeInt32,
	"uint": TypeUint32, "unsigned int": TypeUint32, "uint32": TypeUint32, "uint32_t": TypeUint32,
	"float": TypeFloat32, "double": TypeFloat64,
}

var typeSizes = map[string]int{
	TypeUint8: 1, TypeInt8: 1, TypeInt16: 2, TypeUint16: 2,
	TypeInt32: 4, TypeUint32: 4, TypeFloat32: 4, TypeFloat64: 8,
}

// Key/value fields used to carry the index-to-physical axis convention
const (
	axesKey   = "uct2ccf_axes"
	originKey = "uct2ccf_origin"
)

// unitlessMillimetreLimit is the largest spacing read as millimetres when a
// header names no units. The CCF volumes store 10, 25, 50 or 100 with no
// units line; those are microns.
const unitlessMillimetreLimit = 1.0

// Header is the subset of an NRRD header this package understands. Sizes,
// Spacings and SpaceOrigin are in file order, fastest axis first. File axis i
// is index axis i of a Volume.
type Header struct {
	Type        string
	Sizes       [3]int
	Spacings    [3]float64
	SpaceOrigin [3]float64
	Encoding    string
	Endian      binary.ByteOrder

	// Units scales file lengths to millimetres; 0 when the header names none
	Units float64

	KeyValues map[string]string
}

// Scale returns the factor from file lengths to millimetres
func (h Header) Scale() float64 {
	if h.Units != 0 {
		return h.Units
	}
	for _, s := range h.Spacings {
		if s > unitlessMillimetreLimit {
			return 0.001
		}
	}
	return 1
}

// Grid converts the header geometry to a grid. Index axes follow the ZYX
// convention unless the file was written by this package.
func (h Header) Grid() models.Grid {
	g := models.Grid{Axes: models.ConventionZYX}
	if v, ok := h.KeyValues[axesKey]; ok {
		if c, err := parseInts(v); err == nil {
			g.Axes = models.Convention(c)
		}
	}
	scale := h.Scale()
	for i := 0; i < 3; i++ {
		s := h.Spacings[i]
		if s == 0 || math.IsNaN(s) {
			s = 1
		} else {
			s *= scale
		}
		g.Spacing[g.Axes[i]] = s
		g.Origin[g.Axes[i]] = h.SpaceOrigin[i] * scale
	}
	if v, ok := h.KeyValues[originKey]; ok {
		if o, err := parseFloats(v); err == nil {
			g.Origin = o
		}
	}
	return g
}

// parseUnits reads a units field. Empty quoted names leave the units unstated.
func parseUnits(v string) (float64, error) {
	for _, f := range strings.Fields(v) {
		u := strings.ToLower(strings.Trim(f, `"`))
		switch {
		case u == "":
			continue
		case u == "um" || u == "µm" || u == "μm" || strings.HasPrefix(u, "micro"):
			return 0.001, nil
		case u == "mm" || strings.HasPrefix(u, "millim"):
			return 1, nil
		default:
			return 0, errors.Errorf("unsupported NRRD units %q", u)
		}
	}
	return 0, nil
}

// ReadHeader parses an NRRD header and leaves r positioned at the data
func ReadHeader(r *bufio.Reader) (Header, error) {
	h := Header{Encoding: "raw", Endian: binary.LittleEndian, KeyValues: map[string]string{}}

	magic, err := r.ReadString('\n')
	if err != nil {
		return h, errors.Wrap(err, "failed to read NRRD magic")
	}
	if !strings.HasPrefix(magic, "NRRD") {
		return h, errors.New("not an NRRD file")
	}

	dimension := 0
	haveSizes := false
	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return h, errors.Wrap(err, "unexpected end of NRRD header")
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":="); ok {
			h.KeyValues[k] = v
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return h, errors.Errorf("malformed NRRD header line %q", line)
		}
		v = strings.TrimSpace(v)

		switch strings.ToLower(strings.TrimSpace(k)) {
		case "type":
			t, ok := typeAliases[strings.ToLower(v)]
			if !ok {
				return h, errors.Errorf("unsupported NRRD type %q", v)
			}
			h.Type = t
		case "dimension":
			if dimension, err = strconv.Atoi(v); err != nil {
				return h, errors.Wrap(err, "invalid NRRD dimension")
			}
		case "sizes":
			s, err := parseInts(v)
			if err != nil {
				return h, errors.Wrap(err, "invalid NRRD sizes")
			}
			h.Sizes = s
			haveSizes = true
		case "spacings":
			if h.Spacings, err = parseFloats(v); err != nil {
				return h, errors.Wrap(err, "invalid NRRD spacings")
			}
		case "space directions":
			if h.Spacings, err = parseDirections(v); err != nil {
				return h, errors.Wrap(err, "invalid NRRD space directions")
			}
		case "space origin":
			if h.SpaceOrigin, err = parseFloats(v); err != nil {
				return h, errors.Wrap(err, "invalid NRRD space origin")
			}
		case "space units", "units":
			if h.Units, err = parseUnits(v); err != nil {
				return h, err
			}
		case "encoding":
			switch strings.ToLower(v) {
			case "raw":
				h.Encoding = "raw"
			case "gzip", "gz":
				h.Encoding = "gzip"
			default:
				return h, errors.Errorf("unsupported NRRD encoding %q", v)
			}
		case "endian":
			if strings.ToLower(v) == "big" {
				h.Endian = binary.BigEndian
			}
		case "data file", "datafile":
			return h, errors.New("detached NRRD data files are not supported")
		}
	}

	if dimension != 3 || !haveSizes {
		return h, errors.Errorf("expected a 3 dimensional NRRD, got dimension %d", dimension)
	}
	if h.Type == "" {
		return h, errors.New("NRRD header has no type")
	}
	return h, nil
}

func parseInts(v string) ([3]int, error) {
	var out [3]int
	f := strings.Fields(v)
	if len(f) != 3 {
		return out, fmt.Errorf("expected 3 values, got %q", v)
	}
	for i, s := range f {
		n, err := strconv.Atoi(s)
		if err != nil {
			return out, err
		}
		out[i] = n
	}
	return out, nil
}

func parseFloats(v string) ([3]float64, error) {
	var out [3]float64
	f := strings.Fields(strings.NewReplacer("(", " ", ")", " ", ",", " ").Replace(v))
	if len(f) != 3 {
		return out, fmt.Errorf("expected 3 values, got %q", v)
	}
	for i, s := range f {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return out, err
		}
		out[i] = n
	}
	return out, nil
}

// parseDirections reads "(a,b,c) (d,e,f) (g,h,i)" and returns each vector's length
func parseDirections(v string) ([3]float64, error) {
	var out [3]float64
	vecs := strings.Fields(v)
	if len(vecs) != 3 {
		return out, fmt.Errorf("expected 3 direction vectors, got %q", v)
	}
	for i, s := range vecs {
		d, err := parseFloats(s)
		if err != nil {
			return out, err
		}
		out[i] = math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
	}
	return out, nil
}

// readSamples reads the header and decodes every sample as float64
func readSamples(path string) (Header, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, errors.Wrapf(err, "failed to open %v", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	h, err := ReadHeader(br)
	if err != nil {
		return h, nil, errors.Wrapf(err, "failed to read header of %v", path)
	}

	var body io.Reader = br
	if h.Encoding == "gzip" {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return h, nil, errors.Wrapf(err, "failed to open gzip data of %v", path)
		}
		defer zr.Close()
		body = zr
	}

	n := h.Sizes[0] * h.Sizes[1] * h.Sizes[2]
	size := typeSizes[h.Type]
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(body, raw); err != nil {
		return h, nil, errors.Wrapf(err, "failed to read %d samples from %v", n, path)
	}

	out := make([]float64, n)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		switch h.Type {
		case TypeUint8:
			out[i] = float64(b[0])
		case TypeInt8:
			out[i] = float64(int8(b[0]))
		case TypeInt16:
			out[i] = float64(int16(h.Endian.Uint16(b)))
		case TypeUint16:
			out[i] = float64(h.Endian.Uint16(b))
		case TypeInt32:
			out[i] = float64(int32(h.Endian.Uint32(b)))
		case TypeUint32:
			out[i] = float64(h.Endian.Uint32(b))
		case TypeFloat32:
			out[i] = float64(math.Float32frombits(h.Endian.Uint32(b)))
		case TypeFloat64:
			out[i] = math.Float64frombits(h.Endian.Uint64(b))
		}
	}
	return h, out, nil
}

// eachSample calls fn with the file offset and the Volume offset of every
// sample. The file stores axis 0 fastest; a Volume stores axis 2 fastest.
func eachSample(shape [3]int, fn func(file, index int)) {
	file := 0
	for c := 0; c < shape[2]; c++ {
		for b := 0; b < shape[1]; b++ {
			for a := 0; a < shape[0]; a++ {
				fn(file, (a*shape[1]+b)*shape[2]+c)
				file++
			}
		}
	}
}

// ReadVolume loads an intensity volume. The grid comes from the header
// spacings unless the file was written by WriteVolume, which also stores the
// axis convention and origin.
func ReadVolume(path string) (*models.Volume, error) {
	h, data, err := readSamples(path)
	if err != nil {
		return nil, err
	}
	vol := models.NewVolume(h.Sizes[0], h.Sizes[1], h.Sizes[2], h.Grid())
	eachSample(h.Sizes, func(file, index int) {
		vol.Data[index] = data[file]
	})
	return vol, nil
}

// ReadLabels loads an annotation volume; samples must be non-negative integers
func ReadLabels(path string) (*models.LabelVolume, error) {
	h, data, err := readSamples(path)
	if err != nil {
		return nil, err
	}
	for i, v := range data {
		if v < 0 || v != math.Trunc(v) || v > math.MaxUint32 {
			return nil, errors.Errorf("%v: sample %d has non-label value %v", path, i, v)
		}
	}
	lv := models.NewLabelVolume(h.Sizes[0], h.Sizes[1], h.Sizes[2], h.Grid())
	eachSample(h.Sizes, func(file, index int) {
		lv.Labels[index] = uint32(data[file])
	})
	return lv, nil
}

// WriteVolume saves vol as gzip-compressed float32 samples
func WriteVolume(path string, vol *models.Volume) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	buf := make([]byte, 4*len(vol.Data))
	eachSample(vol.Shape(), func(file, index int) {
		binary.LittleEndian.PutUint32(buf[file*4:], math.Float32bits(float32(vol.Data[index])))
	})
	return writeNRRD(path, TypeFloat32, vol.Shape(), vol.Grid, buf)
}

// WriteLabels saves an annotation volume as gzip-compressed uint32 samples
func WriteLabels(path string, lv *models.LabelVolume) error {
	if err := lv.Validate(); err != nil {
		return err
	}
	buf := make([]byte, 4*len(lv.Labels))
	eachSample(lv.Shape(), func(file, index int) {
		binary.LittleEndian.PutUint32(buf[file*4:], lv.Labels[index])
	})
	return writeNRRD(path, TypeUint32, lv.Shape(), lv.Grid, buf)
}

func writeNRRD(path, sampleType string, shape [3]int, g models.Grid, data []byte) error {
	var hdr bytes.Buffer
	fmt.Fprintf(&hdr, "NRRD0004\n")
	fmt.Fprintf(&hdr, "# written by uct2ccf\n")
	fmt.Fprintf(&hdr, "type: %s\n", sampleType)
	fmt.Fprintf(&hdr, "dimension: 3\n")
	fmt.Fprintf(&hdr, "sizes: %d %d %d\n", shape[0], shape[1], shape[2])
	fmt.Fprintf(&hdr, "spacings: %g %g %g\n", g.Spacing[g.Axes[0]], g.Spacing[g.Axes[1]], g.Spacing[g.Axes[2]])
	fmt.Fprintf(&hdr, "units: \"mm\" \"mm\" \"mm\"\n")
	fmt.Fprintf(&hdr, "kinds: domain domain domain\n")
	fmt.Fprintf(&hdr, "endian: little\n")
	fmt.Fprintf(&hdr, "encoding: gzip\n")
	fmt.Fprintf(&hdr, "%s:=%d %d %d\n", axesKey, g.Axes[0], g.Axes[1], g.Axes[2])
	fmt.Fprintf(&hdr, "%s:=%g %g %g\n", originKey, g.Origin[0], g.Origin[1], g.Origin[2])
	hdr.WriteString("\n")

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %v", path)
	}
	if _, err := f.Write(hdr.Bytes()); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write header of %v", path)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write data of %v", path)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to finish %v", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %v", path)
}
