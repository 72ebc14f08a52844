package mutation

import (
	"encoding/binary"
	"math/rand"
)

// Interesting boundary values, adapted from the teacher's AFL-inspired
// interesting8/16/32 tables.
var (
	interesting8  = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
	interesting32 = []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}
)

// byteOp names which branch of Bytes.Mutate ran, so Unmutate knows how to
// interpret a token's payload.
type byteOp int

const (
	opBitFlip byteOp = iota
	opByteFlip
	opArith
	opInteresting
	opSwap
	opRandomByte
	opDelete
	opInsert
	opClone
)

// byteToken records enough of a Bytes.Mutate call to exactly reverse it:
// the operation, the affected range, and the bytes that range held
// before the mutation (or, for insert, just the range to cut back out).
type byteToken struct {
	op       byteOp
	pos, n   int
	original []byte
}

// Bytes is an AFL-style Mutator[[]byte]: bit flips, byte flips,
// arithmetic perturbation, interesting-value substitution, byte swaps,
// random byte replacement, and splice-level delete/insert/clone,
// adapted from the teacher's internal/mutator/afl.go suite.
type Bytes struct {
	// ArithMax bounds the arithmetic mutator's +/- delta; 0 defaults to
	// AFL's ARITH_MAX of 35.
	ArithMax int
	// MaxSplice bounds how many bytes a single delete/insert/clone may
	// touch; 0 defaults to 16.
	MaxSplice int
}

func (b *Bytes) arithMax() int {
	if b.ArithMax <= 0 {
		return 35
	}
	return b.ArithMax
}

func (b *Bytes) maxSplice() int {
	if b.MaxSplice <= 0 {
		return 16
	}
	return b.MaxSplice
}

// Arbitrary returns size random bytes.
func (b *Bytes) Arbitrary(rng *rand.Rand, size int) []byte {
	if size <= 0 {
		size = 1
	}
	out := make([]byte, size)
	rng.Read(out)
	return out
}

// Complexity is simply the byte length: longer inputs are considered
// more complex, matching the spec's "smaller is simpler" tie-break rule.
func (b *Bytes) Complexity(v []byte) float64 { return float64(len(v)) }

// Mutate picks one of nine AFL-style operations uniformly and applies it,
// returning the mutated copy and a token that undoes exactly this call.
func (b *Bytes) Mutate(rng *rand.Rand, v []byte) ([]byte, UnmutateToken) {
	if len(v) == 0 {
		out := b.Arbitrary(rng, 1)
		return out, byteToken{op: opInsert, pos: 0, n: len(out)}
	}

	switch byteOp(rng.Intn(9)) {
	case opBitFlip:
		return b.bitFlip(rng, v)
	case opByteFlip:
		return b.byteFlip(rng, v)
	case opArith:
		return b.arith(rng, v)
	case opInteresting:
		return b.interesting(rng, v)
	case opSwap:
		return b.swap(rng, v)
	case opRandomByte:
		return b.randomByte(rng, v)
	case opDelete:
		return b.delete(rng, v)
	case opInsert:
		return b.insert(rng, v)
	default:
		return b.clone(rng, v)
	}
}

func (b *Bytes) bitFlip(rng *rand.Rand, v []byte) ([]byte, UnmutateToken) {
	out := append([]byte(nil), v...)
	bitPos := rng.Intn(len(v) * 8)
	byteIdx, bitIdx := bitPos/8, bitPos%8
	before := []byte{out[byteIdx]}
	out[byteIdx] ^= 1 << uint(7-bitIdx)
	return out, byteToken{op: opBitFlip, pos: byteIdx, n: 1, original: before}
}

func (b *Bytes) byteFlip(rng *rand.Rand, v []byte) ([]byte, UnmutateToken) {
	out := append([]byte(nil), v...)
	pos := rng.Intn(len(v))
	before := []byte{out[pos]}
	out[pos] ^= 0xFF
	return out, byteToken{op: opByteFlip, pos: pos, n: 1, original: before}
}

func (b *Bytes) arith(rng *rand.Rand, v []byte) ([]byte, UnmutateToken) {
	width := 1 << uint(rng.Intn(3)) // 1, 2, or 4
	if width > len(v) {
		width = 1
	}
	out := append([]byte(nil), v...)
	pos := rng.Intn(len(v) - width + 1)
	before := append([]byte(nil), out[pos:pos+width]...)

	delta := rng.Intn(b.arithMax()*2+1) - b.arithMax()
	if delta == 0 {
		delta = 1
	}
	switch width {
	case 1:
		out[pos] = byte(int(out[pos]) + delta)
	case 2:
		val := binary.BigEndian.Uint16(out[pos:])
		binary.BigEndian.PutUint16(out[pos:], uint16(int(val)+delta))
	case 4:
		val := binary.BigEndian.Uint32(out[pos:])
		binary.BigEndian.PutUint32(out[pos:], uint32(int64(val)+int64(delta)))
	}
	return out, byteToken{op: opArith, pos: pos, n: width, original: before}
}

func (b *Bytes) interesting(rng *rand.Rand, v []byte) ([]byte, UnmutateToken) {
	width := 1 << uint(rng.Intn(3))
	if width > len(v) {
		width = 1
	}
	out := append([]byte(nil), v...)
	pos := rng.Intn(len(v) - width + 1)
	before := append([]byte(nil), out[pos:pos+width]...)

	switch width {
	case 1:
		out[pos] = byte(interesting8[rng.Intn(len(interesting8))])
	case 2:
		val := uint16(interesting16[rng.Intn(len(interesting16))])
		binary.BigEndian.PutUint16(out[pos:], val)
	case 4:
		val := uint32(interesting32[rng.Intn(len(interesting32))])
		binary.BigEndian.PutUint32(out[pos:], val)
	}
	return out, byteToken{op: opInteresting, pos: pos, n: width, original: before}
}

func (b *Bytes) swap(rng *rand.Rand, v []byte) ([]byte, UnmutateToken) {
	if len(v) < 2 {
		return b.byteFlip(rng, v)
	}
	out := append([]byte(nil), v...)
	i := rng.Intn(len(v))
	j := rng.Intn(len(v))
	before := []byte{out[i], out[j]}
	out[i], out[j] = out[j], out[i]
	return out, byteToken{op: opSwap, pos: i, n: j, original: before}
}

func (b *Bytes) randomByte(rng *rand.Rand, v []byte) ([]byte, UnmutateToken) {
	out := append([]byte(nil), v...)
	pos := rng.Intn(len(v))
	before := []byte{out[pos]}
	out[pos] = byte(rng.Intn(256))
	return out, byteToken{op: opRandomByte, pos: pos, n: 1, original: before}
}

func (b *Bytes) delete(rng *rand.Rand, v []byte) ([]byte, UnmutateToken) {
	if len(v) <= 1 {
		return b.byteFlip(rng, v)
	}
	maxDel := b.maxSplice()
	if maxDel > len(v)-1 {
		maxDel = len(v) - 1
	}
	n := rng.Intn(maxDel) + 1
	pos := rng.Intn(len(v) - n + 1)

	before := append([]byte(nil), v[pos:pos+n]...)
	out := make([]byte, 0, len(v)-n)
	out = append(out, v[:pos]...)
	out = append(out, v[pos+n:]...)
	return out, byteToken{op: opDelete, pos: pos, n: n, original: before}
}

func (b *Bytes) insert(rng *rand.Rand, v []byte) ([]byte, UnmutateToken) {
	n := rng.Intn(b.maxSplice()) + 1
	pos := rng.Intn(len(v) + 1)
	inserted := make([]byte, n)
	rng.Read(inserted)

	out := make([]byte, 0, len(v)+n)
	out = append(out, v[:pos]...)
	out = append(out, inserted...)
	out = append(out, v[pos:]...)
	return out, byteToken{op: opInsert, pos: pos, n: n}
}

func (b *Bytes) clone(rng *rand.Rand, v []byte) ([]byte, UnmutateToken) {
	if len(v) == 0 {
		return b.insert(rng, v)
	}
	maxClone := b.maxSplice()
	if maxClone > len(v) {
		maxClone = len(v)
	}
	cloneLen := rng.Intn(maxClone) + 1
	srcPos := rng.Intn(len(v) - cloneLen + 1)
	dstPos := rng.Intn(len(v) + 1)
	chunk := append([]byte(nil), v[srcPos:srcPos+cloneLen]...)

	out := make([]byte, 0, len(v)+cloneLen)
	out = append(out, v[:dstPos]...)
	out = append(out, chunk...)
	out = append(out, v[dstPos:]...)
	return out, byteToken{op: opClone, pos: dstPos, n: cloneLen}
}

// VisitSubvalues offers up v's contiguous chunks as children, splitting it
// into at most 8 windows of roughly equal size. A single byte has no
// smaller substructure, so it is offered as its own (and only) child.
func (b *Bytes) VisitSubvalues(v []byte, visit func(child []byte) bool) {
	if len(v) <= 1 {
		visit(v)
		return
	}
	chunks := 8
	if chunks > len(v) {
		chunks = len(v)
	}
	size := (len(v) + chunks - 1) / chunks
	if size == 0 {
		size = 1
	}
	for pos := 0; pos < len(v); pos += size {
		end := pos + size
		if end > len(v) {
			end = len(v)
		}
		if visit(v[pos:end]) {
			return
		}
	}
}

// MutateSpliced grafts a chunk of donor into v at a random position,
// implementing the structure-aware crossover step of the fuzzer's
// mutation contract: donor is a second, independently-chosen pool input,
// and the grafted piece is one of the windows VisitSubvalues would offer
// up for it. The splice reuses insert's token shape, since undoing a
// splice is exactly undoing an insert of the grafted bytes.
func (b *Bytes) MutateSpliced(rng *rand.Rand, v, donor []byte) ([]byte, UnmutateToken) {
	if len(donor) == 0 {
		return b.Mutate(rng, v)
	}

	var chunk []byte
	b.VisitSubvalues(donor, func(child []byte) bool {
		chunk = child
		return rng.Intn(2) == 0
	})
	if len(chunk) == 0 {
		chunk = donor
	}

	pos := rng.Intn(len(v) + 1)
	out := make([]byte, 0, len(v)+len(chunk))
	out = append(out, v[:pos]...)
	out = append(out, chunk...)
	out = append(out, v[pos:]...)
	return out, byteToken{op: opInsert, pos: pos, n: len(chunk)}
}

// Unmutate reverses exactly the operation token describes.
func (b *Bytes) Unmutate(v []byte, token UnmutateToken) []byte {
	t, ok := token.(byteToken)
	if !ok {
		return v
	}
	switch t.op {
	case opBitFlip, opByteFlip, opArith, opInteresting, opRandomByte:
		out := append([]byte(nil), v...)
		copy(out[t.pos:t.pos+t.n], t.original)
		return out
	case opSwap:
		out := append([]byte(nil), v...)
		out[t.pos], out[t.n] = out[t.n], out[t.pos]
		return out
	case opDelete:
		out := make([]byte, 0, len(v)+len(t.original))
		out = append(out, v[:t.pos]...)
		out = append(out, t.original...)
		out = append(out, v[t.pos:]...)
		return out
	case opInsert, opClone:
		out := make([]byte, 0, len(v)-t.n)
		out = append(out, v[:t.pos]...)
		out = append(out, v[t.pos+t.n:]...)
		return out
	default:
		return v
	}
}
