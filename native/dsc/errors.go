package dsc

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "stablecore/native/common"
)

var (
	ErrNilState                     = errors.New("dsc engine: state not configured")
	ErrNeedsMoreThanZero            = errors.New("dsc engine: amount must be more than zero")
	ErrAmountOverflow               = errors.New("dsc engine: amount exceeds 256 bits")
	ErrTokenNotAllowed              = errors.New("dsc engine: collateral token not allowed")
	ErrAssetsAndFeedsLengthMismatch = errors.New("dsc engine: token addresses and price feed addresses must be the same length")
	ErrDuplicateAsset               = errors.New("dsc engine: collateral token registered twice")
	ErrZeroAddress                  = errors.New("dsc engine: zero address")
	ErrMissingCollaborator          = errors.New("dsc engine: collaborator not configured")
	ErrTransferFailed               = errors.New("dsc engine: transfer failed")
	ErrMintFailed                   = errors.New("dsc engine: mint failed")
	ErrBurnFailed                   = errors.New("dsc engine: burn failed")
	ErrBreaksHealthFactor           = errors.New("dsc engine: breaks health factor")
	ErrHealthFactorOk               = errors.New("dsc engine: health factor ok")
	ErrHealthFactorNotImproved      = errors.New("dsc engine: health factor not improved")
	ErrReentrantCall                = errors.New("dsc engine: reentrant call")
	ErrLedgerUnderflow              = errors.New("dsc engine: ledger underflow")
	ErrDebtToCoverExceedsDebt       = errors.New("dsc engine: debt to cover exceeds borrower debt")
	ErrStalePrice                   = errors.New("dsc engine: stale price")
	ErrInvalidPrice                 = errors.New("dsc engine: invalid price")
	ErrFeedNotFound                 = errors.New("dsc engine: price feed not found")
)

// BreaksHealthFactorError carries the health factor that failed the solvency
// check. It matches ErrBreaksHealthFactor under errors.Is.
type BreaksHealthFactorError struct {
	User         common.Address
	HealthFactor *big.Int
}

func (e *BreaksHealthFactorError) Error() string {
	return fmt.Sprintf("%s: %s has health factor %s", ErrBreaksHealthFactor, e.User.Hex(), e.HealthFactor)
}

// Is reports whether target is ErrBreaksHealthFactor.
func (e *BreaksHealthFactorError) Is(target error) bool {
	return target == ErrBreaksHealthFactor
}

func isOracleError(err error) bool {
	return errors.Is(err, ErrStalePrice) || errors.Is(err, ErrInvalidPrice) || errors.Is(err, ErrFeedNotFound)
}

// outcomeLabel maps an operation error to a bounded metrics label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNeedsMoreThanZero), errors.Is(err, ErrTokenNotAllowed), errors.Is(err, ErrAmountOverflow),
		errors.Is(err, ErrDebtToCoverExceedsDebt):
		return "invalid"
	case errors.Is(err, ErrBreaksHealthFactor):
		return "insolvent"
	case errors.Is(err, ErrHealthFactorOk), errors.Is(err, ErrHealthFactorNotImproved):
		return "liquidation_rejected"
	case errors.Is(err, ErrTransferFailed), errors.Is(err, ErrMintFailed), errors.Is(err, ErrBurnFailed):
		return "external_failure"
	case isOracleError(err):
		return "oracle"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, ErrLedgerUnderflow):
		return "underflow"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	default:
		return "error"
	}
}
