package etherscan

import (
	"math/big"
	"strconv"
	"time"
)

// Transaction is one entry of an account txlist response. Etherscan returns
// every numeric field as a decimal string.
type Transaction struct {
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Gas         string `json:"gas"`
	GasPrice    string `json:"gasPrice"`
	GasUsed     string `json:"gasUsed"`
	IsError     string `json:"isError"`
	Nonce       string `json:"nonce"`
}

// ValueWei parses the transfer value; nil result means malformed input.
func (t Transaction) ValueWei() *big.Int {
	wei, ok := new(big.Int).SetString(t.Value, 10)
	if !ok {
		return nil
	}
	return wei
}

// Block returns the block number, or ok=false while the tx is pending.
func (t Transaction) Block() (int64, bool) {
	if t.BlockNumber == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(t.BlockNumber, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Time returns the mined timestamp.
func (t Transaction) Time() time.Time {
	ts, err := strconv.ParseInt(t.TimeStamp, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// GasUsedUnits parses gasUsed, defaulting to zero.
func (t Transaction) GasUsedUnits() uint64 {
	n, err := strconv.ParseUint(t.GasUsed, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// GasOracle is the gastracker gasoracle result.
type GasOracle struct {
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
}

// ETHPrice is the stats ethprice result.
type ETHPrice struct {
	ETHBTC string `json:"ethbtc"`
	ETHUSD string `json:"ethusd"`
}
