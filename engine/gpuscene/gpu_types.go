package gpuscene

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// GPUInstance is the GPU-aligned representation of a single scene instance as
// stored in the device-resident instance array.
// Size: 96 bytes (std430 aligned, no padding required).
type GPUInstance struct {
	Transform      [16]float32 // offset  0: 4×4 model-to-world transform matrix (64 bytes)
	BoundingSphere [4]float32  // offset 64: world-space center (xyz) + radius (w); radius <= 0 marks the slot inactive (16 bytes)
	GeometryIndex  uint32      // offset 80: index into the geometry table (4 bytes)
	MaterialIndex  uint32      // offset 84: index into the material table (4 bytes)
	EntityID       uint32      // offset 88: owning entity id for GPU-side picking/debug (4 bytes)
	Flags          uint32      // offset 92: reserved per-instance flag bits (4 bytes)
}

// Size returns the size of the GPUInstance struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUInstance) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUInstance struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 96-byte buffer ready for GPU upload.
func (g *GPUInstance) Marshal() []byte {
	buf := make([]byte, 96)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(g.Transform[i]))
	}
	binary.LittleEndian.PutUint32(buf[64:68], math.Float32bits(g.BoundingSphere[0]))
	binary.LittleEndian.PutUint32(buf[68:72], math.Float32bits(g.BoundingSphere[1]))
	binary.LittleEndian.PutUint32(buf[72:76], math.Float32bits(g.BoundingSphere[2]))
	binary.LittleEndian.PutUint32(buf[76:80], math.Float32bits(g.BoundingSphere[3]))
	binary.LittleEndian.PutUint32(buf[80:84], g.GeometryIndex)
	binary.LittleEndian.PutUint32(buf[84:88], g.MaterialIndex)
	binary.LittleEndian.PutUint32(buf[88:92], g.EntityID)
	binary.LittleEndian.PutUint32(buf[92:96], g.Flags)
	return buf
}

// toGPU converts a host-side Instance into its device layout.
func toGPU(inst Instance) GPUInstance {
	g := GPUInstance{
		GeometryIndex: inst.Geometry,
		MaterialIndex: inst.Material,
		EntityID:      inst.Entity,
	}
	m := inst.Transform
	copy(g.Transform[:], m[:])
	b := inst.BoundingSphere
	g.BoundingSphere = [4]float32{b[0], b[1], b[2], b[3]}
	return g
}

// Deactivated returns the bounding sphere that marks an instance inactive.
// Downstream GPU consumers treat a non-positive radius as "skip this slot".
//
// Returns:
//   - mgl32.Vec4: a zeroed bounding sphere (radius 0)
func Deactivated() mgl32.Vec4 {
	return mgl32.Vec4{}
}
