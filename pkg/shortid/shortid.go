package shortid

import (
	"fmt"
	"strings"
	"sync"
)

// Alphabet used for short ids. Characters that read ambiguously (1/l, 0/O)
// are left out.
const chars = "023456789abcdefghijkmnopqrstuvwxyz"

// Codec encodes numeric ids as short random-looking strings.
//
// The alphabet is permuted with a salt, so the same id encodes to the same
// string across restarts of a deployment but differently across
// deployments.
type Codec struct {
	chars string
	cmap  map[byte]int
}

// New creates a codec from a salt. The salt must not be empty.
func New(salt string) *Codec {
	if salt == "" {
		panic("shortid: empty salt")
	}
	shuffled := []byte(chars)
	n := len(shuffled)
	for i := 0; i < n; i++ {
		s := int(salt[i%len(salt)])
		j := i + s%(n-i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	cmap := make(map[byte]int, n)
	for i := 0; i < n; i++ {
		cmap[shuffled[i]] = i
	}
	return &Codec{chars: string(shuffled), cmap: cmap}
}

// Encode turns a number into a short id of at least minChars characters.
func (c *Codec) Encode(nb int64, minChars int) string {
	n := int64(len(c.chars))
	var out []byte
	idx := int64(0)
	for i := 0; nb != 0 || i < minChars; i++ {
		idx = (idx + nb) % n
		out = append(out, c.chars[idx])
		idx++
		nb = nb / n
	}
	// Characters were produced least-significant first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// Decode turns a short id back into the original number. It fails on
// characters outside the (permuted) alphabet.
func (c *Codec) Decode(shortid string) (int64, error) {
	n := int64(len(c.chars))
	var nb int64
	e := int64(1)
	prevIdx := int64(0)
	for i := len(shortid) - 1; i >= 0; i-- {
		idx, ok := c.cmap[shortid[i]]
		if !ok {
			return 0, fmt.Errorf("shortid contains invalid character %q", shortid[i])
		}
		d := (int64(idx) - prevIdx) % n
		if d < 0 {
			d += n
		}
		nb += d * e
		prevIdx = int64(idx) + 1
		e *= n
	}
	return nb, nil
}

// MultiCodec maintains one short-id sequence per key, so ids for different
// entities don't follow the same sequence while sharing a single salt.
type MultiCodec struct {
	salt     string
	minChars int

	mu     sync.Mutex
	codecs map[string]*Codec
}

// NewMulti creates a MultiCodec with the given salt and minimum length.
func NewMulti(salt string, minChars int) *MultiCodec {
	return &MultiCodec{
		salt:     salt,
		minChars: minChars,
		codecs:   make(map[string]*Codec),
	}
}

func (m *MultiCodec) codec(key string) *Codec {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codecs[key]
	if !ok {
		c = New(key + m.salt)
		m.codecs[key] = c
	}
	return c
}

// Encode encodes nb in the sequence identified by key.
func (m *MultiCodec) Encode(key string, nb int64) string {
	return m.codec(key).Encode(nb, m.minChars)
}

// Decode decodes a short id in the sequence identified by key.
func (m *MultiCodec) Decode(key, shortid string) (int64, error) {
	if strings.TrimSpace(shortid) == "" {
		return 0, fmt.Errorf("empty shortid")
	}
	return m.codec(key).Decode(shortid)
}
