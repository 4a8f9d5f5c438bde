package download

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha3"
	"crypto/sha512"
	"fmt"
	"hash"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Checksum is the verification policy of a Request. It is one of
// [NoChecksum], [StaticChecksum] or [RemoteChecksum].
type Checksum interface {
	checksum()
}

// NoChecksum skips verification.
type NoChecksum struct{}

// StaticChecksum verifies the download against a digest known up front.
type StaticChecksum struct {
	Algorithm string
	Digest    []byte
}

// RemoteChecksum fetches a hex encoded digest from URI before verifying.
// The checksum file is written to TempPath and then moved to OutputPath.
// An empty TempPath defaults to OutputPath with a ".part" suffix.
type RemoteChecksum struct {
	Algorithm  string
	URI        string
	OutputPath string
	TempPath   string
	Progress   ProgressReceiver
}

func (NoChecksum) checksum()     {}
func (StaticChecksum) checksum() {}
func (RemoteChecksum) checksum() {}

type algorithm struct {
	name string
	new  func() hash.Hash
}

// algorithms is keyed by normalized name, see normalizeAlgorithm.
var algorithms = map[string]algorithm{
	"md5":        {"MD5", md5.New},
	"sha1":       {"SHA-1", sha1.New},
	"sha224":     {"SHA-224", sha256.New224},
	"sha256":     {"SHA-256", sha256.New},
	"sha384":     {"SHA-384", sha512.New384},
	"sha512":     {"SHA-512", sha512.New},
	"sha512/224": {"SHA-512/224", sha512.New512_224},
	"sha512/256": {"SHA-512/256", sha512.New512_256},
	"sha3224":    {"SHA3-224", func() hash.Hash { return sha3.New224() }},
	"sha3256":    {"SHA3-256", func() hash.Hash { return sha3.New256() }},
	"sha3384":    {"SHA3-384", func() hash.Hash { return sha3.New384() }},
	"sha3512":    {"SHA3-512", func() hash.Hash { return sha3.New512() }},
	"blake2b256": {"BLAKE2b-256", mustBlake2b(blake2b.New256)},
	"blake2b512": {"BLAKE2b-512", mustBlake2b(blake2b.New512)},
}

func mustBlake2b(fn func([]byte) (hash.Hash, error)) func() hash.Hash {
	return func() hash.Hash {
		h, err := fn(nil)
		if err != nil {
			// Unkeyed construction only fails for oversized keys.
			panic(err)
		}
		return h
	}
}

// normalizeAlgorithm lowercases name and drops separators, so that
// "SHA-256", "sha256" and "sha_256" resolve to the same algorithm.
func normalizeAlgorithm(name string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(name)))
}

func lookupAlgorithm(name string) (algorithm, error) {
	alg, ok := algorithms[normalizeAlgorithm(name)]
	if !ok {
		return algorithm{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}

	return alg, nil
}

// Algorithms returns the canonical names of the supported checksum algorithms.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for _, alg := range algorithms {
		names = append(names, alg.name)
	}
	slices.Sort(names)

	return names
}

// SupportedAlgorithm reports whether name identifies a supported algorithm.
func SupportedAlgorithm(name string) bool {
	_, err := lookupAlgorithm(name)
	return err == nil
}
