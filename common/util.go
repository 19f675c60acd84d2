package common

import "strings"

// NormalizeTxID strips the 0x prefix the ledger explorer puts on transaction
// hashes; stored tx ids are always bare.
func NormalizeTxID(txID string) string {
	return strings.TrimPrefix(txID, "0x")
}
