package evm

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 code for a request the user declined.
const userRejectedCode = 4001

var (
	ErrUserRejected    = errors.New("user rejected the request")
	ErrUnknownChain    = errors.New("no client for chain")
	ErrUnknownAccount  = errors.New("no signer for account")
	ErrInvalidAddress  = errors.New("invalid EVM address")
	ErrTransactionSent = errors.New("transaction submission failed")
)

// IsUserRejected reports whether err means the wallet user declined to sign.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied")
}
