package ocfl

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
)

var ErrUnknownAlg = errors.New("unknown digest algorithm")

const (
	SHA512  = "sha512"
	SHA256  = "sha256"
	SHA1    = "sha1"
	MD5     = "md5"
	BLAKE2B = "blake2b-512"

	// DefaultAlgorithm is the digest algorithm for new objects unless
	// configured otherwise.
	DefaultAlgorithm = SHA512
)

var (
	// built-in digest algorithm definitions
	builtin = map[string]func() Digester{
		SHA512:  func() Digester { return newHashDigester(sha512.New()) },
		SHA256:  func() Digester { return newHashDigester(sha256.New()) },
		SHA1:    func() Digester { return newHashDigester(sha1.New()) },
		MD5:     func() Digester { return newHashDigester(md5.New()) },
		BLAKE2B: func() Digester { return newHashDigester(mustBlake2bNew512()) },
	}

	// algorithms registered with RegisterAlg
	register   = map[string]func() Digester{}
	registerMx sync.RWMutex
)

// ValidObjectAlgorithm reports whether alg may be used as an object's primary
// digest algorithm. Other registered algorithms may only appear in fixity.
func ValidObjectAlgorithm(alg string) bool {
	return alg == SHA512 || alg == SHA256
}

// RegisterAlg registers a Digester constructor for alg so NewDigester(alg)
// can be used. Built-in algorithms cannot be replaced.
func RegisterAlg(alg string, newDigester func() Digester) {
	if builtin[alg] != nil {
		return
	}
	registerMx.Lock()
	defer registerMx.Unlock()
	register[alg] = newDigester
}

// RegisteredAlgs returns the names of all available digest algorithms.
func RegisteredAlgs() []string {
	registerMx.RLock()
	defer registerMx.RUnlock()
	algs := make([]string, 0, len(builtin)+len(register))
	for k := range builtin {
		algs = append(algs, k)
	}
	for k := range register {
		algs = append(algs, k)
	}
	return algs
}

// NewDigester returns a new Digester for alg, or nil if alg is not
// registered.
func NewDigester(alg string) Digester {
	if newDigester := builtin[alg]; newDigester != nil {
		return newDigester()
	}
	registerMx.RLock()
	defer registerMx.RUnlock()
	if newDigester := register[alg]; newDigester != nil {
		return newDigester()
	}
	return nil
}

// Digester generates a digest value for the bytes written to it.
type Digester interface {
	io.Writer
	// String returns the lowercase hex digest of the bytes written so far.
	String() string
}

type hashDigester struct {
	hash.Hash
}

func newHashDigester(h hash.Hash) hashDigester { return hashDigester{Hash: h} }

func (h hashDigester) String() string { return hex.EncodeToString(h.Sum(nil)) }

// MultiDigester generates digests for multiple algorithms in one pass.
type MultiDigester struct {
	io.Writer
	digesters map[string]Digester
}

func NewMultiDigester(algs ...string) *MultiDigester {
	writers := make([]io.Writer, 0, len(algs))
	digesters := make(map[string]Digester, len(algs))
	for _, alg := range algs {
		if digesters[alg] != nil {
			continue
		}
		if digester := NewDigester(alg); digester != nil {
			digesters[alg] = digester
			writers = append(writers, digester)
		}
	}
	if len(writers) == 0 {
		return &MultiDigester{Writer: io.Discard}
	}
	return &MultiDigester{
		Writer:    io.MultiWriter(writers...),
		digesters: digesters,
	}
}

// Sum returns the digest value for alg, or "" if alg wasn't configured.
func (md MultiDigester) Sum(alg string) string {
	if dig := md.digesters[alg]; dig != nil {
		return dig.String()
	}
	return ""
}

// Sums returns a DigestSet with values for all configured algorithms.
func (md MultiDigester) Sums() DigestSet {
	set := make(DigestSet, len(md.digesters))
	for alg, digester := range md.digesters {
		set[alg] = digester.String()
	}
	return set
}

// DigestSet maps digest algorithm names to digest values.
type DigestSet map[string]string

// Add merges s2 into s. An error is returned if s2 has a conflicting value
// for an algorithm already in s. Comparison is case-insensitive.
func (s DigestSet) Add(s2 DigestSet) error {
	for alg, newDigest := range s2 {
		currDigest := s[alg]
		if currDigest == "" {
			s[alg] = newDigest
			continue
		}
		if strings.EqualFold(currDigest, newDigest) {
			continue
		}
		return &FixityError{Alg: alg, Got: newDigest, Expected: currDigest}
	}
	return nil
}

// ConflictsWith returns the algorithms in s whose values don't match the
// corresponding value in other.
func (s DigestSet) ConflictsWith(other DigestSet) []string {
	var keys []string
	for alg, sv := range s {
		if ov, ok := other[alg]; ok && !strings.EqualFold(sv, ov) {
			keys = append(keys, alg)
		}
	}
	return keys
}

// Validate digests reader and returns a FixityError if the computed value for
// any algorithm in s doesn't match the value in s.
func (s DigestSet) Validate(reader io.Reader) error {
	algs := make([]string, 0, len(s))
	for alg := range s {
		algs = append(algs, alg)
	}
	digester := NewMultiDigester(algs...)
	if _, err := io.Copy(digester, reader); err != nil {
		return err
	}
	result := digester.Sums()
	for _, alg := range result.ConflictsWith(s) {
		return &FixityError{Alg: alg, Expected: s[alg], Got: result[alg]}
	}
	return nil
}

func mustBlake2bNew512() hash.Hash {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic("creating new blake2b hash")
	}
	return h
}
