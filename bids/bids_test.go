package bids

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusFilter(t *testing.T) {
	t.Parallel()

	active := Bid{}
	cancelled := Bid{CancelDate: 1650000000000}

	require.True(t, StatusAll.Matches(active))
	require.True(t, StatusAll.Matches(cancelled))
	require.True(t, StatusActive.Matches(active))
	require.False(t, StatusActive.Matches(cancelled))
	require.False(t, StatusCancelled.Matches(active))
	require.True(t, StatusCancelled.Matches(cancelled))

	for _, f := range []StatusFilter{StatusAll, StatusActive, StatusCancelled} {
		parsed, err := ParseStatusFilter(f.String())
		require.NoError(t, err)
		require.Equal(t, f, parsed)
	}
	f, err := ParseStatusFilter("")
	require.NoError(t, err)
	require.Equal(t, StatusAll, f)
	_, err = ParseStatusFilter("pending")
	require.Error(t, err)

	require.Equal(t, "invalid", StatusFilter(99).String())
	_, err = ParseStatusFilter(StatusFilter(99).String())
	require.Error(t, err)
}

func TestVerdict(t *testing.T) {
	t.Parallel()

	v := Passed()
	require.True(t, v.Pass)
	require.Equal(t, http.StatusOK, v.Status)

	tests := map[Reason]int{
		ReasonMalformedBid:        http.StatusBadRequest,
		ReasonWrongPaymentToken:   http.StatusMethodNotAllowed,
		ReasonSignatureMismatch:   http.StatusMethodNotAllowed,
		ReasonInsufficientBalance: http.StatusMethodNotAllowed,
		ReasonAuctionNotStarted:   http.StatusMethodNotAllowed,
		ReasonAuctionExpired:      http.StatusMethodNotAllowed,
		ReasonWrongSigner:         http.StatusMethodNotAllowed,
		ReasonNonceReplayed:       http.StatusConflict,
		ReasonBidExists:           http.StatusConflict,
		ReasonAlreadyCancelled:    http.StatusConflict,
		ReasonNotFound:            http.StatusNotFound,
	}
	for reason, status := range tests {
		v := Rejected(reason, "msg")
		require.False(t, v.Pass)
		require.Equal(t, status, v.Status, reason)
		require.Equal(t, reason, v.Reason)
	}
}
