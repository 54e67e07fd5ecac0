package transform

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/viam-labs/facade/frame"
)

// ReadDepthCorrection parses a depth correction field from its binary
// stream layout: the B-spline degree and per-axis segment counts as
// little-endian uint32, followed by the control points as float32
// scale/offset pairs.
func ReadDepthCorrection(r io.Reader) (*DepthCorrection, error) {
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, header[:]); err != nil {
		return nil, errors.Wrap(err, "cannot read depth correction header")
	}
	degree := int(header[0])
	numSegments := frame.Size{Width: int(header[1]), Height: int(header[2])}
	if degree == 0 {
		return NoDepthCorrection(), nil
	}
	dc, err := NewDepthCorrection(degree, numSegments)
	if err != nil {
		return nil, err
	}
	raw := make([]float32, 2*len(dc.controlPoints))
	if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
		return nil, errors.Wrap(err, "cannot read depth correction control points")
	}
	for i := range dc.controlPoints {
		dc.controlPoints[i].Scale = raw[2*i]
		dc.controlPoints[i].Offset = raw[2*i+1]
	}
	return dc, nil
}

// WriteDepthCorrection serializes a depth correction field. The
// degree-zero sentinel is written as a header with no control points.
func (dc *DepthCorrection) WriteDepthCorrection(w io.Writer) error {
	header := [3]uint32{uint32(dc.degree), uint32(dc.numSegments.Width), uint32(dc.numSegments.Height)}
	if err := binary.Write(w, binary.LittleEndian, header[:]); err != nil {
		return errors.Wrap(err, "cannot write depth correction header")
	}
	if dc.degree == 0 {
		return nil
	}
	raw := make([]float32, 2*len(dc.controlPoints))
	for i, cp := range dc.controlPoints {
		raw[2*i] = cp.Scale
		raw[2*i+1] = cp.Offset
	}
	if err := binary.Write(w, binary.LittleEndian, raw); err != nil {
		return errors.Wrap(err, "cannot write depth correction control points")
	}
	return nil
}

// ReadDepthCorrectionFile loads a depth correction field from a file.
func ReadDepthCorrectionFile(path string) (*DepthCorrection, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open depth correction file %s", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)
	dc, err := ReadDepthCorrection(f)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid depth correction file %s", path)
	}
	return dc, nil
}

// WriteDepthCorrectionFile stores a depth correction field to a file.
func (dc *DepthCorrection) WriteDepthCorrectionFile(path string) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create depth correction file %s", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return dc.WriteDepthCorrection(f)
}
