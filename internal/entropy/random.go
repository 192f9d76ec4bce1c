// Package entropy provides the world's deterministic random source.
// Every draw is a pure function of (spatial key, simulated date, call-site offset),
// so a reloaded world re-derives identical values without persisting generator state.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"math/bits"
	mrand "math/rand/v2"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Key locates a draw in space. Units use their hex coordinate.
type Key struct {
	X int32
	Y int32
}

// Offset separates logically independent draws made at the same key and date.
// Values come from the call-site table in offsets.go.
type Offset int64

// Noise sampling scales for Smooth.
const (
	smoothSpatialScale  = 0.15
	smoothTemporalScale = 1.0 / 720.0
)

// Source is a seeded 3-D lattice hash. It holds no mutable state after
// NewSource returns and is safe to share between readers.
type Source struct {
	seed int64

	// Tabulation tables: one 256-entry row per byte of x (4), y (4) and z (8).
	table [16][256]uint64

	noise opensimplex.Noise
}

// NewSource builds the hash tables for a world seed.
func NewSource(seed int64) *Source {
	s := &Source{
		seed:  seed,
		noise: opensimplex.NewNormalized(seed),
	}
	gen := mrand.New(mrand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	for row := range s.table {
		for i := range s.table[row] {
			s.table[row][i] = gen.Uint64()
		}
	}
	return s
}

// Seed returns the world seed the source was built from.
func (s *Source) Seed() int64 {
	return s.seed
}

func (s *Source) hash(key Key, date int64, offset Offset) uint64 {
	x := uint32(key.X)
	y := uint32(key.Y)
	z := uint64(date + int64(offset))

	var h uint64
	for i := 0; i < 4; i++ {
		h ^= s.table[i][byte(x>>(8*i))]
		h ^= s.table[4+i][byte(y>>(8*i))]
	}
	for i := 0; i < 8; i++ {
		h ^= s.table[8+i][byte(z>>(8*i))]
	}

	// Finalizer spreads the tabulated bits before range reduction.
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// Int returns a value in [0, max). max < 2 always yields 0.
func (s *Source) Int(key Key, date int64, offset Offset, max int) int {
	if max < 2 {
		return 0
	}
	hi, _ := bits.Mul64(s.hash(key, date, offset), uint64(max))
	return int(hi)
}

// Float returns a value in [0, 1).
func (s *Source) Float(key Key, date int64, offset Offset) float64 {
	return float64(s.hash(key, date, offset)>>11) / float64(1<<53)
}

// Smooth returns spatially coherent noise in [0, 1). Neighbouring keys and
// nearby dates give similar values, unlike Float.
func (s *Source) Smooth(key Key, date int64, offset Offset) float64 {
	v := s.noise.Eval3(
		float64(key.X)*smoothSpatialScale,
		float64(key.Y)*smoothSpatialScale,
		float64(date+int64(offset))*smoothTemporalScale,
	)
	if v < 0 {
		return 0
	}
	if v >= 1 {
		return math.Nextafter(1, 0)
	}
	return v
}

// CryptoSeed draws a fresh world seed from crypto/rand. Used when the
// configuration leaves the seed at 0.
func CryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		return 42
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
