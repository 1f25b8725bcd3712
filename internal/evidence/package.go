// Package evidence assembles, hashes, and durably stores the per-incident
// evidence package.
//
// Assembly is triggered exactly once per escalation. The assembler runs the
// capture tasks in parallel with individual timeouts, then freezes the
// package by computing its content hash. From that instant the package is
// immutable; only the anchoring status fields (which the hash deliberately
// excludes) are updated afterwards.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quietharbor/aegis/pkg/types"
)

// ComputeHash returns the hex SHA-256 digest over the deterministic
// serialisation of the package identity fields: id, timestamp, media
// references, and location.
//
// The serialisation is a fixed-order, newline-separated field list — not
// JSON — so the digest is independent of map ordering and encoder quirks.
// Two computations over the same immutable package always agree.
func ComputeHash(pkg *types.EvidencePackage) string {
	var b strings.Builder
	b.WriteString("aegis-evidence-v1\n")
	b.WriteString(pkg.ID)
	b.WriteByte('\n')
	b.WriteString(pkg.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteByte('\n')
	b.WriteString(pkg.Media.Audio)
	b.WriteByte('\n')
	b.WriteString(pkg.Media.Video)
	b.WriteByte('\n')
	b.WriteString(pkg.Media.Photo)
	b.WriteByte('\n')
	if pkg.Location != nil {
		b.WriteString(strconv.FormatFloat(pkg.Location.Latitude, 'f', 6, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(pkg.Location.Longitude, 'f', 6, 64))
	}
	b.WriteByte('\n')

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// seal computes and sets the package hash. It panics if called twice —
// sealing is the immutability boundary and a second seal is a programming
// error, not a runtime condition.
func seal(pkg *types.EvidencePackage) {
	if pkg.Hash != "" {
		panic(fmt.Sprintf("evidence: package %s already sealed", pkg.ID))
	}
	pkg.Hash = ComputeHash(pkg)
}
