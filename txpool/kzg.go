package txpool

import (
	"errors"
	"fmt"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

var errSidecarShape = errors.New("sidecar length mismatch")

// BlobVerifier checks the KZG proofs of a blob sidecar.
type BlobVerifier interface {
	VerifySidecar(sidecar *gethtypes.BlobTxSidecar) error
}

// KZGVerifier verifies sidecars with go-eth-kzg. Version 0 sidecars carry
// one blob proof per blob, version 1 sidecars one proof per extended cell.
type KZGVerifier struct {
	ctx *goethkzg.Context
}

// NewKZGVerifier loads the trusted setup. This takes a few seconds.
func NewKZGVerifier() (*KZGVerifier, error) {
	ctx, err := goethkzg.NewContext4096Secure()
	if err != nil {
		return nil, fmt.Errorf("kzg: load trusted setup: %w", err)
	}
	return &KZGVerifier{ctx: ctx}, nil
}

// VerifySidecar implements BlobVerifier.
func (v *KZGVerifier) VerifySidecar(sc *gethtypes.BlobTxSidecar) error {
	n := len(sc.Blobs)
	if len(sc.Commitments) != n {
		return fmt.Errorf("%w: %d blobs, %d commitments", errSidecarShape, n, len(sc.Commitments))
	}
	blobs := make([]*goethkzg.Blob, n)
	comms := make([]goethkzg.KZGCommitment, n)
	for i := range sc.Blobs {
		blobs[i] = new(goethkzg.Blob)
		copy(blobs[i][:], sc.Blobs[i][:])
		copy(comms[i][:], sc.Commitments[i][:])
	}

	switch sc.Version {
	case gethtypes.BlobSidecarVersion0:
		if len(sc.Proofs) != n {
			return fmt.Errorf("%w: %d blobs, %d proofs", errSidecarShape, n, len(sc.Proofs))
		}
		proofs := make([]goethkzg.KZGProof, n)
		for i := range sc.Proofs {
			copy(proofs[i][:], sc.Proofs[i][:])
		}
		return v.ctx.VerifyBlobKZGProofBatch(blobs, comms, proofs)

	case gethtypes.BlobSidecarVersion1:
		var (
			cellComms []goethkzg.KZGCommitment
			indices   []uint64
			cells     []*goethkzg.Cell
			proofs    []goethkzg.KZGProof
		)
		for i, blob := range blobs {
			cellProofs, err := sc.CellProofsAt(i)
			if err != nil {
				return err
			}
			extended, err := v.ctx.ComputeCells(blob, 0)
			if err != nil {
				return fmt.Errorf("kzg: compute cells of blob %d: %w", i, err)
			}
			for j, cell := range extended {
				var proof goethkzg.KZGProof
				copy(proof[:], cellProofs[j][:])
				cellComms = append(cellComms, comms[i])
				indices = append(indices, uint64(j))
				cells = append(cells, cell)
				proofs = append(proofs, proof)
			}
		}
		return v.ctx.VerifyCellKZGProofBatch(cellComms, indices, cells, proofs)

	default:
		return fmt.Errorf("unsupported sidecar version %d", sc.Version)
	}
}
