// Package transform holds the decomposed translation / rotation / scale representation used by scene nodes.
package transform

import (
	"github.com/go-gl/mathgl/mgl32"
)

// minScale guards decomposition against division by a collapsed axis.
const minScale = 1e-4

// Transform is a decomposed affine transform. The matrix is always derived from the three components,
// so a Transform value carries no other state.
type Transform struct {
	// Translation is the position offset.
	Translation mgl32.Vec3

	// Rotation is the orientation quaternion.
	Rotation mgl32.Quat

	// Scale is the scale factor along each local axis.
	Scale mgl32.Vec3
}

// Identity returns the transform that leaves points unchanged.
func Identity() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// New builds a transform from its components. The rotation is normalized.
//
// Parameters:
//   - translation: position offset
//   - rotation: orientation, need not be unit length
//   - scale: per-axis scale
//
// Returns:
//   - Transform: the composed transform
func New(translation mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) Transform {
	return Transform{
		Translation: translation,
		Rotation:    normalizeQuat(rotation),
		Scale:       scale,
	}
}

// FromTranslation returns an identity transform moved by t.
func FromTranslation(t mgl32.Vec3) Transform {
	out := Identity()
	out.Translation = t
	return out
}

// Matrix composes T * R * S in column-vector convention.
func (t Transform) Matrix() mgl32.Mat4 {
	translate := mgl32.Translate3D(t.Translation.X(), t.Translation.Y(), t.Translation.Z())
	rotate := normalizeQuat(t.Rotation).Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	return translate.Mul4(rotate).Mul4(scale)
}

// FromMatrix decomposes an affine matrix into translation, rotation and scale.
// Shear cannot be represented and is discarded. A negative determinant is folded into the X scale.
//
// Parameters:
//   - m: the affine column-major matrix
//
// Returns:
//   - Transform: the decomposed transform
func FromMatrix(m mgl32.Mat4) Transform {
	col0 := m.Col(0).Vec3()
	col1 := m.Col(1).Vec3()
	col2 := m.Col(2).Vec3()

	sx, sy, sz := col0.Len(), col1.Len(), col2.Len()
	if m.Det() < 0 {
		sx = -sx
	}

	out := Transform{
		Translation: m.Col(3).Vec3(),
		Scale:       mgl32.Vec3{sx, sy, sz},
		Rotation:    mgl32.QuatIdent(),
	}

	if abs(sx) < minScale || abs(sy) < minScale || abs(sz) < minScale {
		return out
	}

	basis := mgl32.Ident4()
	basis.SetCol(0, col0.Mul(1/sx).Vec4(0))
	basis.SetCol(1, col1.Mul(1/sy).Vec4(0))
	basis.SetCol(2, col2.Mul(1/sz).Vec4(0))
	out.Rotation = normalizeQuat(mgl32.Mat4ToQuat(basis))
	return out
}

// Mul returns the transform equivalent to applying o first and then t, decomposed back into TRS.
func (t Transform) Mul(o Transform) Transform {
	return FromMatrix(t.Matrix().Mul4(o.Matrix()))
}

// ApproxEqual compares two transforms component-wise. Quaternions q and -q are treated as equal.
func (t Transform) ApproxEqual(o Transform, eps float32) bool {
	if !t.Translation.ApproxEqualThreshold(o.Translation, eps) || !t.Scale.ApproxEqualThreshold(o.Scale, eps) {
		return false
	}
	a, b := normalizeQuat(t.Rotation), normalizeQuat(o.Rotation)
	return abs(a.Dot(b)) >= 1-eps
}

func normalizeQuat(q mgl32.Quat) mgl32.Quat {
	if q.Len() == 0 {
		return mgl32.QuatIdent()
	}
	return q.Normalize()
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
