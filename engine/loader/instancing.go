package loader

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-scene/engine/geometry"
	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

var (
	// ErrInstanceCount is returned when the instancing attributes disagree on the instance count.
	ErrInstanceCount = errors.New("instancing attributes have different counts")
	// ErrInvalidSkin is returned when a skin cannot be resolved.
	ErrInvalidSkin = errors.New("invalid skin")
)

type instancingJSON struct {
	Attributes map[string]int `json:"attributes"`
}

// instanceOffsets reads the per-instance TRS of EXT_mesh_gpu_instancing. Missing attributes are the identity.
// A node without the extension returns nil.
func instanceOffsets(doc *gltf.Document, node *gltf.Node) ([]mgl32.Mat4, error) {
	v, ok := node.Extensions[ExtMeshGPUInstancing]
	if !ok {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var ext instancingJSON
	if err := json.Unmarshal(raw, &ext); err != nil {
		return nil, err
	}

	var translations, scales []mgl32.Vec3
	var rotations []mgl32.Vec4
	count := -1
	agree := func(n int) error {
		if count >= 0 && n != count {
			return fmt.Errorf("%d vs %d: %w", count, n, ErrInstanceCount)
		}
		count = n
		return nil
	}

	if idx, ok := ext.Attributes["TRANSLATION"]; ok {
		if translations, err = geometry.ReadVec3(doc, idx); err != nil {
			return nil, fmt.Errorf("translation: %w", err)
		}
		if err := agree(len(translations)); err != nil {
			return nil, err
		}
	}
	if idx, ok := ext.Attributes["ROTATION"]; ok {
		if rotations, err = geometry.ReadVec4(doc, idx); err != nil {
			return nil, fmt.Errorf("rotation: %w", err)
		}
		if err := agree(len(rotations)); err != nil {
			return nil, err
		}
	}
	if idx, ok := ext.Attributes["SCALE"]; ok {
		if scales, err = geometry.ReadVec3(doc, idx); err != nil {
			return nil, fmt.Errorf("scale: %w", err)
		}
		if err := agree(len(scales)); err != nil {
			return nil, err
		}
	}
	if count <= 0 {
		return nil, nil
	}

	out := make([]mgl32.Mat4, count)
	for i := range out {
		t := transform.Identity()
		if translations != nil {
			t.Translation = translations[i]
		}
		if rotations != nil {
			r := rotations[i]
			t.Rotation = mgl32.Quat{W: r[3], V: mgl32.Vec3{r[0], r[1], r[2]}}
		}
		if scales != nil {
			t.Scale = scales[i]
		}
		out[i] = t.Matrix()
	}
	return out, nil
}

// skin appends the joint matrices of a skin the first time a node uses it. Each joint matrix is the joint's
// bind-pose global transform times its inverse bind matrix.
func (a *assembly) skin(index int) (skinRange, error) {
	if r, ok := a.skins[index]; ok {
		return r, nil
	}
	if index < 0 || index >= len(a.doc.Skins) || a.doc.Skins[index] == nil {
		return skinRange{}, fmt.Errorf("skin %d: %w", index, ErrInvalidSkin)
	}
	s := a.doc.Skins[index]

	var inverseBind []mgl32.Mat4
	if s.InverseBindMatrices != nil {
		var err error
		if inverseBind, err = geometry.ReadMat4(a.doc, *s.InverseBindMatrices); err != nil {
			return skinRange{}, fmt.Errorf("inverse bind matrices: %w", err)
		}
		if len(inverseBind) < len(s.Joints) {
			return skinRange{}, fmt.Errorf("%d inverse bind matrices for %d joints: %w", len(inverseBind), len(s.Joints), ErrInvalidSkin)
		}
	}

	matrices := make([]mgl32.Mat4, len(s.Joints))
	for i, joint := range s.Joints {
		global, ok := a.walked.global(joint)
		if !ok {
			return skinRange{}, fmt.Errorf("joint node %d is not part of the scene: %w", joint, ErrInvalidSkin)
		}
		bind := mgl32.Ident4()
		if inverseBind != nil {
			bind = inverseBind[i]
		}
		matrices[i] = global.Mul4(bind)
	}

	r := skinRange{base: len(a.arrays.JointMatrices), count: len(s.Joints)}
	a.arrays.JointMatrices = append(a.arrays.JointMatrices, matrices...)
	a.skins[index] = r
	return r, nil
}
