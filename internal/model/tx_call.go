package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxCall is an unsigned contract call prepared by the platform API.
type TxCall struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}
