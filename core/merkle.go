package core

// CalculateMerkleRoot hashes each transaction's serialization and combines the
// hashes pairwise until one remains. Odd levels duplicate their last hash.
func CalculateMerkleRoot(hasher Hasher, transactions []Transaction) string {
	if len(transactions) == 0 {
		return ""
	}
	hashes := make([]string, len(transactions))
	for i, tx := range transactions {
		hashes[i] = hasher.Hash([]byte(tx.Serialize()))
	}
	for len(hashes) > 1 {
		if len(hashes)%2 != 0 {
			hashes = append(hashes, hashes[len(hashes)-1])
		}
		next := make([]string, 0, len(hashes)/2)
		for i := 0; i < len(hashes); i += 2 {
			next = append(next, hasher.Hash([]byte(hashes[i]+hashes[i+1])))
		}
		hashes = next
	}
	return hashes[0]
}
