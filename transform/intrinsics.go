package transform

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Intrinsics file layouts. The legacy layout is identified by its
// fixed size; later layouts carry a version tag.
const (
	// IntrinsicsFormatLegacy is five depth lens distortion
	// coefficients followed by the depth and color projection
	// matrices, all little-endian float64.
	IntrinsicsFormatLegacy = iota
	// IntrinsicsFormatExtended tags the file with a version and
	// stores a full distortion parameter block per camera.
	IntrinsicsFormatExtended
)

const (
	legacyIntrinsicsFileSize = (5 + 16 + 16) * 8
	intrinsicsFileVersion    = 2
)

// IntrinsicParameters bundles the projective and lens distortion
// models of one depth camera and its paired color camera.
type IntrinsicParameters struct {
	// DepthLensDistortion models the depth camera's lens.
	DepthLensDistortion *LensDistortion
	// ColorLensDistortion models the color camera's lens.
	ColorLensDistortion *LensDistortion
	// DepthProjection unprojects (pixelX, pixelY, correctedDepth)
	// triples into camera space.
	DepthProjection PTransform
	// ColorProjection maps camera-space points into normalized
	// color image coordinates.
	ColorProjection PTransform
}

// NewIntrinsicParameters returns identity intrinsics.
func NewIntrinsicParameters() *IntrinsicParameters {
	return &IntrinsicParameters{
		DepthLensDistortion: NewLensDistortion(),
		ColorLensDistortion: NewLensDistortion(),
		DepthProjection:     IdentityPTransform(),
		ColorProjection:     IdentityPTransform(),
	}
}

// UpdateLensProjections rederives the pixel mappings of both lens
// distortion models from the current projection matrices. Call after
// changing DepthProjection.
func (ip *IntrinsicParameters) UpdateLensProjections() error {
	if err := ip.DepthLensDistortion.SetProjection(ip.DepthProjection); err != nil {
		return errors.Wrap(err, "cannot derive depth lens pixel mapping")
	}
	return nil
}

// UndistortDepthPixel removes depth lens distortion from a depth
// image position.
func (ip *IntrinsicParameters) UndistortDepthPixel(p r2.Point) r2.Point {
	return ip.DepthLensDistortion.UndistortPixel(p)
}

// DistortDepthPixel applies depth lens distortion to an undistorted
// depth image position.
func (ip *IntrinsicParameters) DistortDepthPixel(p r2.Point) r2.Point {
	return ip.DepthLensDistortion.DistortPixel(p)
}

// UndistortColorPixel removes color lens distortion from a color
// image position.
func (ip *IntrinsicParameters) UndistortColorPixel(p r2.Point) r2.Point {
	return ip.ColorLensDistortion.UndistortPixel(p)
}

func readMatrix(r io.Reader) (PTransform, error) {
	var raw [16]float64
	if err := binary.Read(r, binary.LittleEndian, raw[:]); err != nil {
		return PTransform{}, err
	}
	var p PTransform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			p[i][j] = raw[i*4+j]
		}
	}
	return p, nil
}

func writeMatrix(w io.Writer, p PTransform) error {
	var raw [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			raw[i*4+j] = p[i][j]
		}
	}
	return binary.Write(w, binary.LittleEndian, raw[:])
}

func readLensDistortion(r io.Reader) (*LensDistortion, error) {
	var raw [10]float64
	if err := binary.Read(r, binary.LittleEndian, raw[:]); err != nil {
		return nil, err
	}
	ld := NewLensDistortion()
	ld.Center = r2.Point{X: raw[0], Y: raw[1]}
	copy(ld.Kappas[:], raw[2:8])
	copy(ld.Rhos[:], raw[8:10])
	return ld, nil
}

func writeLensDistortion(w io.Writer, ld *LensDistortion) error {
	raw := [10]float64{ld.Center.X, ld.Center.Y}
	copy(raw[2:8], ld.Kappas[:])
	copy(raw[8:10], ld.Rhos[:])
	return binary.Write(w, binary.LittleEndian, raw[:])
}

// ReadIntrinsicParameters parses an intrinsics stream in either
// layout. The caller passes the total stream length to discriminate
// the untagged legacy layout.
func ReadIntrinsicParameters(r io.Reader, size int64) (*IntrinsicParameters, int, error) {
	ip := NewIntrinsicParameters()
	if size == legacyIntrinsicsFileSize {
		var raw [5]float64
		if err := binary.Read(r, binary.LittleEndian, raw[:]); err != nil {
			return nil, 0, errors.Wrap(err, "cannot read lens distortion coefficients")
		}
		copy(ip.DepthLensDistortion.Kappas[:3], raw[:3])
		copy(ip.DepthLensDistortion.Rhos[:], raw[3:5])
		var err error
		if ip.DepthProjection, err = readMatrix(r); err != nil {
			return nil, 0, errors.Wrap(err, "cannot read depth projection matrix")
		}
		if ip.ColorProjection, err = readMatrix(r); err != nil {
			return nil, 0, errors.Wrap(err, "cannot read color projection matrix")
		}
		if err := ip.UpdateLensProjections(); err != nil {
			return nil, 0, err
		}
		return ip, IntrinsicsFormatLegacy, nil
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, 0, errors.Wrap(err, "cannot read intrinsics file version")
	}
	if version != intrinsicsFileVersion {
		return nil, 0, errors.Errorf("unsupported intrinsics file version %d", version)
	}
	var err error
	if ip.DepthLensDistortion, err = readLensDistortion(r); err != nil {
		return nil, 0, errors.Wrap(err, "cannot read depth lens distortion")
	}
	if ip.DepthProjection, err = readMatrix(r); err != nil {
		return nil, 0, errors.Wrap(err, "cannot read depth projection matrix")
	}
	if ip.ColorLensDistortion, err = readLensDistortion(r); err != nil {
		return nil, 0, errors.Wrap(err, "cannot read color lens distortion")
	}
	if ip.ColorProjection, err = readMatrix(r); err != nil {
		return nil, 0, errors.Wrap(err, "cannot read color projection matrix")
	}
	if err := ip.UpdateLensProjections(); err != nil {
		return nil, 0, err
	}
	return ip, IntrinsicsFormatExtended, nil
}

// WriteIntrinsicParameters serializes intrinsics in the requested
// layout. The legacy layout drops the distortion centers, the extra
// radial coefficients, and the color lens distortion.
func WriteIntrinsicParameters(w io.Writer, ip *IntrinsicParameters, format int) error {
	switch format {
	case IntrinsicsFormatLegacy:
		raw := [5]float64{}
		copy(raw[:3], ip.DepthLensDistortion.Kappas[:3])
		copy(raw[3:5], ip.DepthLensDistortion.Rhos[:])
		if err := binary.Write(w, binary.LittleEndian, raw[:]); err != nil {
			return errors.Wrap(err, "cannot write lens distortion coefficients")
		}
		if err := writeMatrix(w, ip.DepthProjection); err != nil {
			return errors.Wrap(err, "cannot write depth projection matrix")
		}
		if err := writeMatrix(w, ip.ColorProjection); err != nil {
			return errors.Wrap(err, "cannot write color projection matrix")
		}
		return nil
	case IntrinsicsFormatExtended:
		if err := binary.Write(w, binary.LittleEndian, uint32(intrinsicsFileVersion)); err != nil {
			return errors.Wrap(err, "cannot write intrinsics file version")
		}
		if err := writeLensDistortion(w, ip.DepthLensDistortion); err != nil {
			return errors.Wrap(err, "cannot write depth lens distortion")
		}
		if err := writeMatrix(w, ip.DepthProjection); err != nil {
			return errors.Wrap(err, "cannot write depth projection matrix")
		}
		if err := writeLensDistortion(w, ip.ColorLensDistortion); err != nil {
			return errors.Wrap(err, "cannot write color lens distortion")
		}
		if err := writeMatrix(w, ip.ColorProjection); err != nil {
			return errors.Wrap(err, "cannot write color projection matrix")
		}
		return nil
	default:
		return errors.Errorf("unknown intrinsics file format %d", format)
	}
}

// ReadIntrinsicsFile loads intrinsics from a file, returning the
// layout it was stored in.
func ReadIntrinsicsFile(path string) (ip *IntrinsicParameters, format int, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "cannot open intrinsics file %s", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	ip, format, err = ReadIntrinsicParameters(f, info.Size())
	if err != nil {
		return nil, 0, errors.Wrapf(err, "invalid intrinsics file %s", path)
	}
	return ip, format, nil
}

// WriteIntrinsicsFile stores intrinsics to a file in the requested
// layout.
func WriteIntrinsicsFile(path string, ip *IntrinsicParameters, format int) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create intrinsics file %s", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return WriteIntrinsicParameters(f, ip, format)
}
