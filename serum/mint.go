package serum

import "fmt"

// DecodeMintDecimals returns the decimals of an SPL token mint account.
func DecodeMintDecimals(data []byte) (uint8, error) {
	if err := exactLength("mint", data, MintSize); err != nil {
		return 0, err
	}
	r := NewReader(data)
	if r.U8(mintIsInitializedOffset) == 0 {
		return 0, fmt.Errorf("%w: mint is not initialized", ErrUnexpectedFlags)
	}
	return r.U8(mintDecimalsOffset), nil
}
