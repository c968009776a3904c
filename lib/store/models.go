package store

import "time"

// User contains the fields of a registered user. Address and EncKey are write-once after signup assignment; Balance
// only ever grows through Credit.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Address  string `json:"depositAddress"`
	EncKey   string `json:"-"` // encrypted private key blob, never serialized out
	Balance  string `json:"balance"`
}

// Transfer contains the fields of a credited deposit. Append-only; TxHash is unique per user when the source chain
// provides one.
type Transfer struct {
	UserID int64     `json:"userId"`
	TxHash string    `json:"txHash,omitempty"`
	Amount string    `json:"amount"`
	Kind   string    `json:"type"`
	TS     time.Time `json:"ts"`
}

// KindDeposit tags transfers credited by the deposit pipeline.
const KindDeposit = "deposit"
