package model

import "errors"

// MaxChainDepth bounds how many ref links are followed.
const MaxChainDepth = 32

var (
	ErrChainTooDeep = errors.New("ref chain too deep")
	ErrChainCycle   = errors.New("ref chain cycle")
)
