package calib

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// TiePoint pairs a 3D point in depth camera space with its observed
// position in the color image, in un-normalized pixels.
type TiePoint struct {
	World r3.Vector
	Color r2.Point
}

// ReadTiePoints parses tie points from comma-separated rows of
// world-X, world-Y, world-Z, color column, color row.
func ReadTiePoints(r io.Reader) ([]TiePoint, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 5
	cr.TrimLeadingSpace = true

	var tiePoints []TiePoint
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "cannot read tie point row")
		}
		var fields [5]float64
		for i, s := range record {
			if fields[i], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, errors.Wrapf(err, "tie point row %d has a non-numeric field", len(tiePoints)+1)
			}
		}
		tiePoints = append(tiePoints, TiePoint{
			World: r3.Vector{X: fields[0], Y: fields[1], Z: fields[2]},
			Color: r2.Point{X: fields[3], Y: fields[4]},
		})
	}
	return tiePoints, nil
}

// ReadTiePointsFile loads tie points from a CSV file.
func ReadTiePointsFile(path string) ([]TiePoint, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open tie point file %s", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)
	tiePoints, err := ReadTiePoints(f)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid tie point file %s", path)
	}
	return tiePoints, nil
}
