package ocfl

import (
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"
)

const (
	helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	helloMD5    = "5d41402abc4b2a76b9719d911017c592"
	helloSHA1   = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"
)

func TestDigester(t *testing.T) {
	is := is.New(t)
	for alg, expect := range map[string]string{
		SHA256: helloSHA256,
		MD5:    helloMD5,
		SHA1:   helloSHA1,
	} {
		digester := NewDigester(alg)
		_, err := digester.Write([]byte("hello"))
		is.NoErr(err)
		is.Equal(digester.String(), expect)
	}
	is.Equal(NewDigester("sha3"), nil)
}

func TestMultiDigester(t *testing.T) {
	is := is.New(t)
	md := NewMultiDigester(SHA256, MD5)
	_, err := md.Write([]byte("hello"))
	is.NoErr(err)
	is.Equal(md.Sum(SHA256), helloSHA256)
	is.Equal(md.Sum(MD5), helloMD5)
	is.Equal(md.Sum(SHA512), "")
	sums := md.Sums()
	is.Equal(len(sums), 2)
}

func TestDigestSetValidate(t *testing.T) {
	is := is.New(t)
	set := DigestSet{SHA256: helloSHA256, MD5: helloMD5}
	is.NoErr(set.Validate(strings.NewReader("hello")))
	err := set.Validate(strings.NewReader("HELLO"))
	is.True(err != nil)
	var fixErr *FixityError
	is.True(errors.As(err, &fixErr))
}

func TestDigestSetAdd(t *testing.T) {
	is := is.New(t)
	set := DigestSet{SHA256: helloSHA256}
	is.NoErr(set.Add(DigestSet{MD5: helloMD5}))
	is.NoErr(set.Add(DigestSet{SHA256: strings.ToUpper(helloSHA256)})) // case-insensitive match
	err := set.Add(DigestSet{SHA256: helloSHA1})
	is.True(err != nil)
}

func TestRegisterAlg(t *testing.T) {
	is := is.New(t)
	RegisterAlg("size-8", func() Digester { return NewDigester(SHA256) })
	is.True(NewDigester("size-8") != nil)
	// built-ins can't be replaced
	RegisterAlg(SHA256, func() Digester { return nil })
	d := NewDigester(SHA256)
	d.Write([]byte("hello"))
	is.Equal(d.String(), helloSHA256)
}
