package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	agreementRecordPrefix = []byte("escrow/agreement/")
	disputeRecordPrefix   = []byte("escrow/dispute/")
	poolAssignmentPrefix  = []byte("escrow/pool/assigned/")
	accountRecordPrefix   = []byte("account/")

	agreementSequenceKey = ethcrypto.Keccak256([]byte("escrow/agreement/seq"))
	poolMembersKey       = ethcrypto.Keccak256([]byte("escrow/pool/members"))
)
