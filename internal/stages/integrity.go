// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stages

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/docudactyl/pkg/types"
)

// MerkleChunkSize is the leaf size of the per-document Merkle tree.
const MerkleChunkSize = 64 << 10

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// MerkleResult is the root of a document's chunk tree. Only the root and
// leaf count are stored; Prove rebuilds an audit path from the file.
type MerkleResult struct {
	Root      string `json:"root" yaml:"root"`
	ChunkSize int    `json:"chunk_size" yaml:"chunk_size"`
	LeafCount int    `json:"leaf_count" yaml:"leaf_count"`
}

// ErrRootMismatch reports a file whose chunks no longer hash to the
// recorded root.
var ErrRootMismatch = errors.New("file does not match merkle root")

// ProofStep is one sibling hash on the path to the root. Left reports
// whether the sibling sits to the left of the running hash.
type ProofStep struct {
	Hash string `json:"hash" yaml:"hash"`
	Left bool   `json:"left" yaml:"left"`
}

func leafHash(chunk []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(chunk)
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func nodeHash(l, r [32]byte) [32]byte {
	var buf [65]byte
	buf[0] = nodePrefix
	copy(buf[1:], l[:])
	copy(buf[33:], r[:])
	return sha256.Sum256(buf[:])
}

// MerkleLeaves hashes r in MerkleChunkSize chunks. Empty input yields a
// single leaf over the empty chunk.
func MerkleLeaves(r io.Reader) ([][32]byte, error) {
	var leaves [][32]byte
	buf := make([]byte, MerkleChunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			leaves = append(leaves, leafHash(buf[:n]))
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(leaves) == 0 {
		leaves = append(leaves, leafHash(nil))
	}
	return leaves, nil
}

// levels builds every tree level from the leaves up. An odd node is
// promoted unchanged.
func levels(leaves [][32]byte) [][][32]byte {
	out := [][][32]byte{leaves}
	cur := leaves
	for len(cur) > 1 {
		next := make([][32]byte, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 == len(cur) {
				next = append(next, cur[i])
				continue
			}
			next = append(next, nodeHash(cur[i], cur[i+1]))
		}
		out = append(out, next)
		cur = next
	}
	return out
}

// MerkleRoot returns the root over leaves.
func MerkleRoot(leaves [][32]byte) [32]byte {
	lv := levels(leaves)
	return lv[len(lv)-1][0]
}

// Proof returns the audit path for leaf index.
func Proof(leaves [][32]byte, index int) ([]ProofStep, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf %d out of range [0,%d)", index, len(leaves))
	}
	var steps []ProofStep
	for _, lv := range levels(leaves) {
		if len(lv) == 1 {
			break
		}
		sib := index ^ 1
		if sib < len(lv) {
			steps = append(steps, ProofStep{Hash: hex.EncodeToString(lv[sib][:]), Left: sib < index})
		}
		index /= 2
	}
	return steps, nil
}

// Verify checks that chunk at its proof path hashes to root.
func Verify(chunk []byte, proof []ProofStep, root string) bool {
	cur := leafHash(chunk)
	for _, st := range proof {
		b, err := hex.DecodeString(st.Hash)
		if err != nil || len(b) != 32 {
			return false
		}
		var sib [32]byte
		copy(sib[:], b)
		if st.Left {
			cur = nodeHash(sib, cur)
		} else {
			cur = nodeHash(cur, sib)
		}
	}
	want, err := hex.DecodeString(root)
	return err == nil && bytes.Equal(cur[:], want)
}

// MerkleFile builds the chunk tree of the file at path.
func MerkleFile(path string) (*MerkleResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	leaves, err := MerkleLeaves(f)
	if err != nil {
		return nil, err
	}
	root := MerkleRoot(leaves)
	return &MerkleResult{
		Root:      hex.EncodeToString(root[:]),
		ChunkSize: MerkleChunkSize,
		LeafCount: len(leaves),
	}, nil
}

// Prove rereads path and returns chunk index with its audit path. It fails
// with ErrRootMismatch when the file changed since the root was recorded.
func (m *MerkleResult) Prove(path string, index int) ([]byte, []ProofStep, error) {
	if m.ChunkSize != MerkleChunkSize {
		return nil, nil, fmt.Errorf("unsupported chunk size %d", m.ChunkSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	leaves, err := MerkleLeaves(f)
	if err != nil {
		return nil, nil, err
	}
	if root := MerkleRoot(leaves); hex.EncodeToString(root[:]) != m.Root {
		return nil, nil, ErrRootMismatch
	}
	proof, err := Proof(leaves, index)
	if err != nil {
		return nil, nil, err
	}
	chunk := make([]byte, m.ChunkSize)
	n, err := f.ReadAt(chunk, int64(index)*int64(m.ChunkSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("reading chunk %d: %w", index, err)
	}
	return chunk[:n], proof, nil
}

func merkleStage(_ context.Context, r *run, bit types.StageFlags) {
	m, err := MerkleFile(r.in.Conduit.Path)
	if err != nil {
		r.res.skip(bit, "merkle: "+err.Error(), false)
		return
	}
	r.res.Merkle = m
	r.res.done(bit)
}

// PREMISRecord is a minimal PREMIS object with fixity and one ingestion
// event.
type PREMISRecord struct {
	ObjectID     string      `json:"object_id" yaml:"object_id"`
	OriginalName string      `json:"original_name" yaml:"original_name"`
	Size         int64       `json:"size" yaml:"size"`
	Format       string      `json:"format" yaml:"format"`
	Fixity       Fixity      `json:"fixity" yaml:"fixity"`
	Events       []PREMISEvt `json:"events" yaml:"events"`
}

// Fixity is a message digest over the original bytes.
type Fixity struct {
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	Digest    string `json:"digest" yaml:"digest"`
}

// PREMISEvt records one preservation event.
type PREMISEvt struct {
	ID      string `json:"id" yaml:"id"`
	Type    string `json:"type" yaml:"type"`
	Date    string `json:"date" yaml:"date"`
	Outcome string `json:"outcome" yaml:"outcome"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Agent   string `json:"agent" yaml:"agent"`
}

// ObjectID is the stable identifier derived from a content fingerprint.
func ObjectID(sha256Hex string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("sha256:"+sha256Hex)).String()
}

func premisStage(_ context.Context, r *run, bit types.StageFlags) {
	c := r.in.Conduit
	if c.SHA256 == "" {
		r.res.skip(bit, "no fingerprint", false)
		return
	}
	outcome := "success"
	if r.in.Result.Status != types.StatusOK {
		outcome = "failure"
	}
	now := r.o.now().UTC()
	rec := &PREMISRecord{
		ObjectID:     ObjectID(c.SHA256),
		OriginalName: c.Path,
		Size:         c.FileSize,
		Format:       c.MIMEType,
		Fixity:       Fixity{Algorithm: "SHA-256", Digest: c.SHA256},
		Events: []PREMISEvt{{
			ID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.SHA256+"|ingestion|"+now.Format(time.RFC3339Nano))).String(),
			Type:    "ingestion",
			Date:    now.Format(time.RFC3339),
			Outcome: outcome,
			Detail:  fmt.Sprintf("extracted %d pages, %d words", r.in.Result.PageCount, r.in.Result.WordCount),
			Agent:   r.o.opts.Agent,
		}},
	}
	r.res.PREMIS = rec
	r.res.done(bit)
}
