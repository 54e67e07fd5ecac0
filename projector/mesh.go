// Package projector turns raw depth frames into textured triangle
// meshes in calibrated 3D camera space, with optional temporal and
// spatial depth filtering and a background streaming pipeline.
package projector

// Vertex is one mesh vertex: the (possibly lens-corrected) position
// in depth image space with the corrected depth as its third
// component, and the normalized color texture coordinates of the
// pixel.
type Vertex struct {
	Position [3]float32
	TexCoord [2]float32
}

// MeshBuffer is the result of meshing one depth frame: a vertex per
// depth pixel and a triangle list indexing into the vertex array.
// Only the first 3*NumTriangles entries of Indices are meaningful.
type MeshBuffer struct {
	Vertices     []Vertex
	Indices      []uint32
	NumTriangles int

	// Timestamp is copied from the source depth frame.
	Timestamp float64
}

// quadCaseNumTriangles maps a quad's corner validity bit mask to the
// number of triangles generated for it. Bits 0..3 mark the lower
// left, lower right, upper left, and upper right corners.
var quadCaseNumTriangles = [16]int{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1, 0, 1, 1, 2}
