package seed

const (
	mtN         = 624
	mtM         = 397
	matrixA     = 0x9908b0df
	upperMask   = 0x80000000
	lowerMask   = 0x7fffffff
	initialSeed = 19650218
)

// mt19937 is a 32-bit Mersenne Twister seeded the way CPython seeds
// random.Random from an integer, so that draws line up with the Python
// releases of structure_threader.
type mt19937 struct {
	state [mtN]uint32
	index int
}

func newMT19937(seed int64) *mt19937 {
	m := &mt19937{}
	m.seedByArray(keyFromInt(seed))
	return m
}

// keyFromInt splits |seed| into little-endian 32-bit words. Zero becomes [0].
func keyFromInt(seed int64) []uint32 {
	u := uint64(seed)
	if seed < 0 {
		u = uint64(-seed)
	}
	if u == 0 {
		return []uint32{0}
	}
	var key []uint32
	for u != 0 {
		key = append(key, uint32(u))
		u >>= 32
	}
	return key
}

func (m *mt19937) seedGenrand(s uint32) {
	m.state[0] = s
	for i := 1; i < mtN; i++ {
		prev := m.state[i-1]
		m.state[i] = 1812433253*(prev^(prev>>30)) + uint32(i)
	}
	m.index = mtN
}

func (m *mt19937) seedByArray(key []uint32) {
	m.seedGenrand(initialSeed)
	mt := &m.state

	i, j := 1, 0
	k := mtN
	if len(key) > k {
		k = len(key)
	}
	for ; k > 0; k-- {
		prev := mt[i-1]
		mt[i] = (mt[i] ^ ((prev ^ (prev >> 30)) * 1664525)) + key[j] + uint32(j)
		i++
		j++
		if i >= mtN {
			mt[0] = mt[mtN-1]
			i = 1
		}
		if j >= len(key) {
			j = 0
		}
	}
	for k = mtN - 1; k > 0; k-- {
		prev := mt[i-1]
		mt[i] = (mt[i] ^ ((prev ^ (prev >> 30)) * 1566083941)) - uint32(i)
		i++
		if i >= mtN {
			mt[0] = mt[mtN-1]
			i = 1
		}
	}
	mt[0] = upperMask
	m.index = mtN
}

func (m *mt19937) twist() {
	mt := &m.state
	for k := 0; k < mtN; k++ {
		y := (mt[k] & upperMask) | (mt[(k+1)%mtN] & lowerMask)
		v := mt[(k+mtM)%mtN] ^ (y >> 1)
		if y&1 != 0 {
			v ^= matrixA
		}
		mt[k] = v
	}
	m.index = 0
}

// Uint32 returns the next tempered 32-bit output.
func (m *mt19937) Uint32() uint32 {
	if m.index >= mtN {
		m.twist()
	}
	y := m.state[m.index]
	m.index++

	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// below returns a uniform value in [0, n) by rejection sampling over the
// top bits of each output, matching CPython's randrange for n < 2^32.
func (m *mt19937) below(n uint32) uint32 {
	if n <= 1 {
		return 0
	}
	k := bitLength(n)
	r := m.Uint32() >> (32 - k)
	for r >= n {
		r = m.Uint32() >> (32 - k)
	}
	return r
}

func bitLength(n uint32) uint {
	var l uint
	for n != 0 {
		l++
		n >>= 1
	}
	return l
}
