package calculator

import (
	"math/big"

	"github.com/rony4d/go-ftso-provider/datamanager"
)

var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// RandomResult is the combined random of a voting round.
type RandomResult struct {
	Random   *big.Int `json:"random"`
	IsSecure bool     `json:"isSecure"`
	// Contributors counts the non-benched voters whose reveals were summed.
	Contributors int `json:"contributors"`
}

// CalculateRandom sums the revealed randoms of voters outside the benching
// window modulo 2^256. The random is secure when no voter outside the benching
// window failed to reveal in this round and at least minRevealers voters
// contributed.
func CalculateRandom(data *datamanager.DataForCalculations, minRevealers int) RandomResult {
	sum := new(big.Int)
	contributors := 0
	for voter, reveal := range data.ValidEligibleReveals {
		if data.BenchingWindowRevealOffenders.Has(voter) {
			continue
		}
		sum.Add(sum, new(big.Int).SetBytes(reveal.Random[:]))
		contributors++
	}
	sum.Mod(sum, two256)

	secure := contributors >= minRevealers
	for offender := range data.RevealOffenders {
		if !data.BenchingWindowRevealOffenders.Has(offender) {
			secure = false
			break
		}
	}
	return RandomResult{Random: sum, IsSecure: secure, Contributors: contributors}
}
