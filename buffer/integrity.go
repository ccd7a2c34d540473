package buffer

import (
	"bytes"

	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/streamsync/media"
)

// checkDigest verifies the chunk payload against its blake2b-256 digest.
//
// A chunk arriving without a digest has one computed and attached so that
// later consumers (sync points, transport retransmission) can verify the
// payload was not corrupted while buffered. A chunk arriving with a digest
// that does not match its payload is rejected at admission.
func (p *Pool) checkDigest(c *media.Chunk) bool {
	sum := blake2b.Sum256(c.Payload)
	if len(c.Digest) == 0 {
		c.Digest = sum[:]
		return true
	}
	return bytes.Equal(c.Digest, sum[:])
}
