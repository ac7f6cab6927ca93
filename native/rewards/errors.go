package rewards

import "errors"

// Stable numeric failure kinds. External callers branch on these; they travel
// through the RPC layer unchanged.
const (
	CodeNotAuthority       = 200
	CodeNotOwner           = 201
	CodeInvalidPoints      = 202
	CodeInsufficientPoints = 203
	CodeAlreadyBurned      = 204
)

var (
	ErrNotAuthority     = errors.New("rewards: caller is not the mint authority")
	ErrNotOwner         = errors.New("rewards: reward not found or caller is not the owner")
	ErrInvalidRecipient = errors.New("rewards: recipient must be a non-zero address")
	ErrInvalidPoints    = errors.New("rewards: points must be at least 1")
	ErrBatchSize        = errors.New("rewards: batch size must be between 1 and 100")
	ErrAnnotationLength = errors.New("rewards: annotation exceeds 256 bytes")
	// ErrInsufficientPoints is reserved for points-debit operations.
	ErrInsufficientPoints = errors.New("rewards: insufficient points")
	ErrAlreadyBurned      = errors.New("rewards: reward already burned")
)

// ErrorCode maps a ledger failure to its numeric kind. The boolean reports
// whether the error belongs to the ledger's failure table at all; storage and
// encoding errors do not.
func ErrorCode(err error) (int, bool) {
	switch {
	case errors.Is(err, ErrNotAuthority):
		return CodeNotAuthority, true
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrInvalidRecipient):
		return CodeNotOwner, true
	case errors.Is(err, ErrInvalidPoints), errors.Is(err, ErrBatchSize), errors.Is(err, ErrAnnotationLength):
		return CodeInvalidPoints, true
	case errors.Is(err, ErrInsufficientPoints):
		return CodeInsufficientPoints, true
	case errors.Is(err, ErrAlreadyBurned):
		return CodeAlreadyBurned, true
	}
	return 0, false
}
