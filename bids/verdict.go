package bids

import "net/http"

// Reason is a machine-readable cause of a rejected request.
type Reason string

const (
	// ReasonNone is the reason of a passing verdict.
	ReasonNone Reason = ""
	// ReasonMalformedBid indicates the request doesn't have the expected shape.
	ReasonMalformedBid Reason = "MalformedBid"
	// ReasonWrongPaymentToken indicates the bid names a token the item isn't sold for.
	ReasonWrongPaymentToken Reason = "WrongPaymentToken"
	// ReasonSignatureMismatch indicates the bid signature doesn't recover to the account.
	ReasonSignatureMismatch Reason = "SignatureMismatch"
	// ReasonInsufficientBalance indicates the account can't cover the bid amount.
	ReasonInsufficientBalance Reason = "InsufficientBalance"
	// ReasonAuctionNotStarted indicates the chain didn't reach the start block yet.
	ReasonAuctionNotStarted Reason = "AuctionNotStarted"
	// ReasonAuctionExpired indicates the chain is past the expire block.
	ReasonAuctionExpired Reason = "AuctionExpired"
	// ReasonNonceReplayed indicates the nonce was already consumed.
	ReasonNonceReplayed Reason = "NonceReplayed"
	// ReasonBidExists indicates the bid was already stored.
	ReasonBidExists Reason = "BidExists"
	// ReasonNotFound indicates the referenced bid doesn't exist.
	ReasonNotFound Reason = "NotFound"
	// ReasonAlreadyCancelled indicates the bid was cancelled before.
	ReasonAlreadyCancelled Reason = "AlreadyCancelled"
	// ReasonWrongSigner indicates the cancel signature wasn't produced by the bidder.
	ReasonWrongSigner Reason = "WrongSigner"
)

// Status returns the status class of the reason, expressed as an HTTP status code.
func (r Reason) Status() int {
	switch r {
	case ReasonNone:
		return http.StatusOK
	case ReasonMalformedBid:
		return http.StatusBadRequest
	case ReasonNotFound:
		return http.StatusNotFound
	case ReasonNonceReplayed, ReasonBidExists, ReasonAlreadyCancelled:
		return http.StatusConflict
	default:
		return http.StatusMethodNotAllowed
	}
}

// Verdict is the outcome of a bid operation. Rejections are verdicts, not errors.
type Verdict struct {
	Pass    bool   `json:"pass"`
	Status  int    `json:"status"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Passed returns a passing verdict.
func Passed() Verdict {
	return Verdict{Pass: true, Status: http.StatusOK}
}

// Rejected returns a failing verdict for reason.
func Rejected(reason Reason, msg string) Verdict {
	return Verdict{
		Status:  reason.Status(),
		Reason:  reason,
		Message: msg,
	}
}
