package evm

// Contract methods carrying an IPFS hash.
const (
	KindPost  = "post"
	KindShare = "share"
	KindReply = "reply"
)

// Call is a decoded contract call from a successful transaction.
type Call struct {
	SourceID  string
	Kind      string
	IPFSHash  string
	TxHash    string
	From      string
	Height    uint64
	BlockHash string
	Timestamp uint64
}

// Batch is the result of one scan step.
type Batch struct {
	Calls []Call
	// Scanned reports that a block was read and the cursor moved to Height.
	Scanned bool
	Height  uint64
	// Behind reports that confirmed blocks beyond Height are still waiting.
	Behind bool
}
