package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// undistortion iteration limits, shared by all lens models
const (
	undistortMaxSteps = 20
	undistortMaxError = 1e-15
)

// LensDistortion is a Brown-Conrady lens distortion model operating
// on tangent-plane coordinates, with up to six radial and two
// tangential coefficients. The projection fields map pixel
// coordinates into the tangent plane so that distortion can be
// applied to and removed from pixel positions directly.
type LensDistortion struct {
	// Center is the center of distortion in tangent-plane coordinates.
	Center r2.Point
	// Kappas are the radial distortion coefficients.
	Kappas [6]float64
	// Rhos are the tangential distortion coefficients.
	Rhos [2]float64

	// pixel <-> tangent plane mapping
	fx, sk, cx float64
	fy, cy     float64
}

// NewLensDistortion returns an identity lens distortion whose pixel
// mapping is the identity as well.
func NewLensDistortion() *LensDistortion {
	return &LensDistortion{fx: 1, fy: 1}
}

// IsIdentity reports whether the distortion has no effect, i.e. all
// coefficients are zero.
func (ld *LensDistortion) IsIdentity() bool {
	for _, k := range ld.Kappas {
		if k != 0 {
			return false
		}
	}
	return ld.Rhos[0] == 0 && ld.Rhos[1] == 0
}

// Distort maps an undistorted tangent-plane point to its distorted
// position.
func (ld *LensDistortion) Distort(p r2.Point) r2.Point {
	dx := p.X - ld.Center.X
	dy := p.Y - ld.Center.Y
	r2v := dx*dx + dy*dy
	scale := 1.0
	rp := r2v
	for _, k := range ld.Kappas {
		scale += k * rp
		rp *= r2v
	}
	return r2.Point{
		X: ld.Center.X + dx*scale + 2*ld.Rhos[0]*dx*dy + ld.Rhos[1]*(r2v+2*dx*dx),
		Y: ld.Center.Y + dy*scale + ld.Rhos[0]*(r2v+2*dy*dy) + 2*ld.Rhos[1]*dx*dy,
	}
}

// Undistort maps a distorted tangent-plane point back to its
// undistorted position by Newton-Raphson iteration on Distort with
// an analytic Jacobian.
func (ld *LensDistortion) Undistort(p r2.Point) r2.Point {
	if ld.IsIdentity() {
		return p
	}
	// the distorted position is a good starting guess
	u := p
	for step := 0; step < undistortMaxSteps; step++ {
		d := ld.Distort(u)
		ex := d.X - p.X
		ey := d.Y - p.Y
		if ex*ex+ey*ey < undistortMaxError {
			break
		}

		dx := u.X - ld.Center.X
		dy := u.Y - ld.Center.Y
		r2v := dx*dx + dy*dy
		scale := 1.0
		dScale := 0.0
		rp := r2v
		rq := 1.0
		for i, k := range ld.Kappas {
			scale += k * rp
			dScale += float64(i+1) * k * rq
			rp *= r2v
			rq *= r2v
		}
		j00 := scale + 2*dx*dx*dScale + 2*ld.Rhos[0]*dy + 6*ld.Rhos[1]*dx
		j01 := 2*dx*dy*dScale + 2*ld.Rhos[0]*dx + 2*ld.Rhos[1]*dy
		j10 := 2*dx*dy*dScale + 2*ld.Rhos[0]*dx + 2*ld.Rhos[1]*dy
		j11 := scale + 2*dy*dy*dScale + 6*ld.Rhos[0]*dy + 2*ld.Rhos[1]*dx

		det := j00*j11 - j01*j10
		if det == 0 {
			break
		}
		u.X -= (j11*ex - j01*ey) / det
		u.Y -= (j00*ey - j10*ex) / det
	}
	return u
}

// PixelToTangent maps a pixel position into the tangent plane.
func (ld *LensDistortion) PixelToTangent(p r2.Point) r2.Point {
	ty := (p.Y - ld.cy) / ld.fy
	tx := (p.X - ld.sk*ty - ld.cx) / ld.fx
	return r2.Point{X: tx, Y: ty}
}

// TangentToPixel maps a tangent-plane position back to pixels.
func (ld *LensDistortion) TangentToPixel(t r2.Point) r2.Point {
	return r2.Point{
		X: ld.fx*t.X + ld.sk*t.Y + ld.cx,
		Y: ld.fy*t.Y + ld.cy,
	}
}

// DistortPixel applies lens distortion to an undistorted pixel
// position.
func (ld *LensDistortion) DistortPixel(p r2.Point) r2.Point {
	return ld.TangentToPixel(ld.Distort(ld.PixelToTangent(p)))
}

// UndistortPixel removes lens distortion from a distorted pixel
// position.
func (ld *LensDistortion) UndistortPixel(p r2.Point) r2.Point {
	return ld.TangentToPixel(ld.Undistort(ld.PixelToTangent(p)))
}

// SetProjection derives the pixel to tangent-plane mapping from a
// transform unprojecting (pixelX, pixelY, depth) triples into camera
// space. The mapping of a depth camera is affine in the pixel
// coordinates, so three probe points recover it exactly.
func (ld *LensDistortion) SetProjection(unproject PTransform) error {
	tangentAt := func(px, py float64) (r2.Point, error) {
		v := unproject.Apply(r3.Vector{X: px, Y: py, Z: 1})
		if v.Z == 0 || math.IsNaN(v.Z) || math.IsInf(v.Z, 0) {
			return r2.Point{}, errors.New("unprojection probe has no finite depth")
		}
		return r2.Point{X: v.X / v.Z, Y: v.Y / v.Z}, nil
	}
	t00, err := tangentAt(0, 0)
	if err != nil {
		return err
	}
	t10, err := tangentAt(1, 0)
	if err != nil {
		return err
	}
	t01, err := tangentAt(0, 1)
	if err != nil {
		return err
	}

	alpha := t10.X - t00.X
	beta := t01.X - t00.X
	a := t01.Y - t00.Y
	if alpha == 0 || a == 0 {
		return errors.New("unprojection is degenerate in pixel coordinates")
	}
	ld.fx = 1 / alpha
	ld.fy = 1 / a
	ld.sk = -beta / (alpha * a)
	ld.cy = -ld.fy * t00.Y
	ld.cx = -(ld.fx*t00.X + ld.sk*t00.Y)
	return nil
}
