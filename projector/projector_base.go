package projector

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/viam-labs/facade/frame"
	"github.com/viam-labs/facade/transform"
)

// DefaultTriangleDepthRange is the default maximum raw depth spread
// of a mesh triangle's corners.
const DefaultTriangleDepthRange frame.Depth = 5

// ProjectorBase holds the calibrated projection state shared by all
// meshing strategies: the per-pixel depth correction array, the
// intrinsic and extrinsic parameters, and the combined world-space
// depth projection.
type ProjectorBase struct {
	depthSize frame.Size

	// depthCorrection is the evaluated per-pixel correction array,
	// nil for identity correction
	depthCorrection []transform.PixelCorrection

	intrinsics *transform.IntrinsicParameters
	extrinsics transform.PTransform

	worldDepthProjection    transform.PTransform
	invWorldDepthProjection transform.PTransform

	// pixelGrid caches the per-pixel vertex positions: undistorted
	// pixel positions when the depth lens model is non-identity,
	// otherwise pixel centers
	pixelGrid []r2.Point

	quadCaseVertexOffsets [16][6]int32

	colorSpace         frame.ColorSpace
	triangleDepthRange frame.Depth
}

// NewProjectorBase returns projection state with identity calibration
// and no depth frame size.
func NewProjectorBase() *ProjectorBase {
	pb := &ProjectorBase{
		intrinsics:         transform.NewIntrinsicParameters(),
		extrinsics:         transform.IdentityPTransform(),
		triangleDepthRange: DefaultTriangleDepthRange,
	}
	pb.worldDepthProjection = transform.IdentityPTransform()
	pb.invWorldDepthProjection = transform.IdentityPTransform()
	return pb
}

// DepthFrameSize returns the current depth frame size.
func (pb *ProjectorBase) DepthFrameSize() frame.Size {
	return pb.depthSize
}

// SetDepthFrameSize sets the depth frame size and rebuilds the
// per-size lookup tables.
func (pb *ProjectorBase) SetDepthFrameSize(size frame.Size) {
	pb.depthSize = size

	w := int32(size.Width)
	// triangle in lower-left corner of quad
	pb.quadCaseVertexOffsets[0x7] = [6]int32{0, 1, w}
	// triangle in lower-right corner of quad
	pb.quadCaseVertexOffsets[0xb] = [6]int32{0, 1, w + 1}
	// triangle in upper-left corner of quad
	pb.quadCaseVertexOffsets[0xd] = [6]int32{0, w, w + 1}
	// triangle in upper-right corner of quad
	pb.quadCaseVertexOffsets[0xe] = [6]int32{1, w, w + 1}
	// two triangles, split into lower-left and upper-right
	pb.quadCaseVertexOffsets[0xf] = [6]int32{0, 1, w, w, 1, w + 1}

	pb.buildPixelGrid()
}

// SetDepthCorrection evaluates a depth correction field into the
// per-pixel correction array. A nil or invalid field clears the
// array, making the correction the identity.
func (pb *ProjectorBase) SetDepthCorrection(dc *transform.DepthCorrection) {
	if dc == nil || !dc.IsValid() {
		pb.depthCorrection = nil
		return
	}
	pb.depthCorrection = dc.PixelCorrectionGrid(pb.depthSize)
}

// SetIntrinsicParameters replaces the intrinsic parameters and
// recomputes the combined world-space depth projection.
func (pb *ProjectorBase) SetIntrinsicParameters(ip *transform.IntrinsicParameters) error {
	pb.intrinsics = ip
	pb.buildPixelGrid()
	return pb.updateWorldDepthProjection()
}

// SetExtrinsicParameters replaces the extrinsic camera transform and
// recomputes the combined world-space depth projection.
func (pb *ProjectorBase) SetExtrinsicParameters(ep transform.PTransform) error {
	pb.extrinsics = ep
	return pb.updateWorldDepthProjection()
}

// IntrinsicParameters returns the current intrinsic parameters.
func (pb *ProjectorBase) IntrinsicParameters() *transform.IntrinsicParameters {
	return pb.intrinsics
}

// WorldDepthProjection returns the combined transform from depth
// image space to world space.
func (pb *ProjectorBase) WorldDepthProjection() transform.PTransform {
	return pb.worldDepthProjection
}

// ColorSpace returns the color space tag of the paired color stream.
func (pb *ProjectorBase) ColorSpace() frame.ColorSpace {
	return pb.colorSpace
}

// SetColorSpace sets the color space tag of the paired color stream.
func (pb *ProjectorBase) SetColorSpace(cs frame.ColorSpace) {
	pb.colorSpace = cs
}

// SetTriangleDepthRange sets the maximum raw depth spread of a
// triangle's corners. Larger values let triangles bridge bigger depth
// discontinuities.
func (pb *ProjectorBase) SetTriangleDepthRange(tdr frame.Depth) {
	pb.triangleDepthRange = tdr
}

func (pb *ProjectorBase) updateWorldDepthProjection() error {
	pb.worldDepthProjection = pb.extrinsics.Mul(pb.intrinsics.DepthProjection)
	inv, err := pb.worldDepthProjection.Inverse()
	if err != nil {
		return errors.Wrap(err, "combined world depth projection is singular")
	}
	pb.invWorldDepthProjection = inv
	return nil
}

func (pb *ProjectorBase) buildPixelGrid() {
	if pb.depthSize.Volume() == 0 {
		pb.pixelGrid = nil
		return
	}
	pb.pixelGrid = make([]r2.Point, pb.depthSize.Volume())
	undistort := !pb.intrinsics.DepthLensDistortion.IsIdentity()
	idx := 0
	for y := 0; y < pb.depthSize.Height; y++ {
		for x := 0; x < pb.depthSize.Width; x++ {
			p := r2.Point{X: float64(x) + 0.5, Y: float64(y) + 0.5}
			if undistort {
				p = pb.intrinsics.UndistortDepthPixel(p)
			}
			pb.pixelGrid[idx] = p
			idx++
		}
	}
}

// correctedDepth applies the per-pixel depth correction to a raw
// depth sample.
func (pb *ProjectorBase) correctedDepth(idx int, raw frame.Depth) float32 {
	if pb.depthCorrection == nil {
		return float32(raw)
	}
	return pb.depthCorrection[idx].Correct(float32(raw))
}

// ProcessDepthFrame meshes one depth frame: it fills the mesh's
// vertex array with one vertex per pixel and assembles the triangle
// list from the quad validity case tables, skipping triangles whose
// corner depths spread farther than the triangle depth range.
func (pb *ProjectorBase) ProcessDepthFrame(depthFrame *frame.FrameBuffer, mesh *MeshBuffer) error {
	if !depthFrame.IsValid() || depthFrame.Size() != pb.depthSize {
		return errors.Errorf("depth frame size %dx%d does not match projector size %dx%d",
			depthFrame.Size().Width, depthFrame.Size().Height, pb.depthSize.Width, pb.depthSize.Height)
	}
	depths := depthFrame.Depths()

	if len(mesh.Vertices) != pb.depthSize.Volume() {
		mesh.Vertices = make([]Vertex, pb.depthSize.Volume())
	}
	maxIndices := (pb.depthSize.Width - 1) * (pb.depthSize.Height - 1) * 2 * 3
	if len(mesh.Indices) != maxIndices {
		mesh.Indices = make([]uint32, maxIndices)
	}

	// vertex pass
	cp := pb.intrinsics.ColorProjection
	for i, raw := range depths {
		v := &mesh.Vertices[i]
		g := pb.pixelGrid[i]
		z := pb.correctedDepth(i, raw)
		v.Position = [3]float32{float32(g.X), float32(g.Y), z}

		// project into normalized color image coordinates
		s := cp[0][0]*g.X + cp[0][1]*g.Y + cp[0][2]*float64(z) + cp[0][3]
		t := cp[1][0]*g.X + cp[1][1]*g.Y + cp[1][2]*float64(z) + cp[1][3]
		w := cp[3][0]*g.X + cp[3][1]*g.Y + cp[3][2]*float64(z) + cp[3][3]
		if w != 0 {
			v.TexCoord = [2]float32{float32(s / w), float32(t / w)}
		} else {
			v.TexCoord = [2]float32{}
		}
	}

	// triangle pass
	tdr := pb.triangleDepthRange
	numIndices := 0
	mesh.NumTriangles = 0
	stride := pb.depthSize.Width
	for y := 1; y < pb.depthSize.Height; y++ {
		rowIndex := (y - 1) * stride
		for x := 1; x < pb.depthSize.Width; x++ {
			index := rowIndex + x - 1

			caseIndex := 0
			if depths[index] != frame.InvalidDepth {
				caseIndex |= 0x1
			}
			if depths[index+1] != frame.InvalidDepth {
				caseIndex |= 0x2
			}
			if depths[index+stride] != frame.InvalidDepth {
				caseIndex |= 0x4
			}
			if depths[index+stride+1] != frame.InvalidDepth {
				caseIndex |= 0x8
			}

			cvo := &pb.quadCaseVertexOffsets[caseIndex]
			for i := 0; i < quadCaseNumTriangles[caseIndex]; i++ {
				minDepth := depths[index+int(cvo[i*3])]
				maxDepth := minDepth
				for j := 1; j < 3; j++ {
					d := depths[index+int(cvo[i*3+j])]
					if minDepth > d {
						minDepth = d
					}
					if maxDepth < d {
						maxDepth = d
					}
				}
				if maxDepth-minDepth <= tdr {
					for j := 0; j < 3; j++ {
						mesh.Indices[numIndices] = uint32(index + int(cvo[i*3+j]))
						numIndices++
					}
					mesh.NumTriangles++
				}
			}
		}
	}

	mesh.Timestamp = depthFrame.Timestamp
	return nil
}

// UnprojectPixel maps one depth pixel of a depth frame into world
// space using the combined world depth projection.
func (pb *ProjectorBase) UnprojectPixel(x, y int, depthFrame *frame.FrameBuffer) r3.Vector {
	idx := y*pb.depthSize.Width + x
	z := pb.correctedDepth(idx, depthFrame.Depths()[idx])
	g := pb.pixelGrid[idx]
	return pb.worldDepthProjection.Apply(r3.Vector{X: g.X, Y: g.Y, Z: float64(z)})
}

// ProjectPoint maps a world-space point back into raw depth image
// space: the inverse world depth projection, followed by forward lens
// distortion back to raw sensor pixels, followed by the inverse depth
// correction at the pixel under the point.
func (pb *ProjectorBase) ProjectPoint(p r3.Vector) r3.Vector {
	dip := pb.invWorldDepthProjection.Apply(p)

	if !pb.intrinsics.DepthLensDistortion.IsIdentity() {
		dp := pb.intrinsics.DistortDepthPixel(r2.Point{X: dip.X, Y: dip.Y})
		dip.X = dp.X
		dip.Y = dp.Y
	}

	if pb.depthCorrection != nil {
		dipx := int(math.Floor(dip.X))
		dipy := int(math.Floor(dip.Y))
		if dipx >= 0 && dipx < pb.depthSize.Width && dipy >= 0 && dipy < pb.depthSize.Height {
			pc := pb.depthCorrection[dipy*pb.depthSize.Width+dipx]
			dip.Z = (dip.Z - float64(pc.Offset)) / float64(pc.Scale)
		}
	}

	return dip
}
