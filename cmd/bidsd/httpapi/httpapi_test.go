package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/cmd/bidsd/bidmanager"
)

func TestPing(t *testing.T) {
	t.Parallel()
	mux := createMux(&bidServiceMock{})

	res := serve(mux, http.MethodGet, "/ping", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "pong", res.Body.String())
	_, err := uuid.Parse(res.Header().Get(RequestIDHeader))
	require.NoError(t, err)

	res = serve(mux, http.MethodPost, "/ping", nil)
	require.Equal(t, http.StatusMethodNotAllowed, res.Code)
}

func TestRequestIDIsKept(t *testing.T) {
	t.Parallel()
	mux := createMux(&bidServiceMock{})

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)
	res := httptest.NewRecorder()
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, id, res.Header().Get(RequestIDHeader))
}

func TestPlaceBid(t *testing.T) {
	t.Parallel()

	req := SignedBid{BidParams: testParams(), SignedMessage: "0xsig"}
	placed := bids.Bid{BidParams: req.BidParams, ItemID: "0xitem", SignedMessage: "0xsig", Date: 10, Version: "2.0"}

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		s := &bidServiceMock{}
		s.On("PlaceBid", mock.Anything, req.BidParams, "0xsig").Return(placed, bids.Passed(), nil)

		res := serve(createMux(s), http.MethodPost, "/bids", req)
		require.Equal(t, http.StatusOK, res.Code)
		var got bids.Bid
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
		require.Equal(t, placed, got)
		s.AssertExpectations(t)
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()
		s := &bidServiceMock{}
		verdict := bids.Rejected(bids.ReasonInsufficientBalance, "balance too low")
		s.On("PlaceBid", mock.Anything, req.BidParams, "0xsig").Return(bids.Bid{}, verdict, nil)

		res := serve(createMux(s), http.MethodPost, "/bids", req)
		require.Equal(t, http.StatusMethodNotAllowed, res.Code)
		var got bids.Verdict
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
		require.Equal(t, verdict, got)
	})

	t.Run("chain unavailable", func(t *testing.T) {
		t.Parallel()
		s := &bidServiceMock{}
		err := fmt.Errorf("verifying bid: %w", bids.ErrChainUnavailable)
		s.On("PlaceBid", mock.Anything, req.BidParams, "0xsig").Return(bids.Bid{}, bids.Verdict{}, err)

		res := serve(createMux(s), http.MethodPost, "/bids", req)
		require.Equal(t, http.StatusServiceUnavailable, res.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()
		s := &bidServiceMock{}
		s.On("PlaceBid", mock.Anything, req.BidParams, "0xsig").Return(bids.Bid{}, bids.Verdict{}, errors.New("db down"))

		res := serve(createMux(s), http.MethodPost, "/bids", req)
		require.Equal(t, http.StatusInternalServerError, res.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		s := &bidServiceMock{}
		r := httptest.NewRequest(http.MethodPost, "/bids", bytes.NewReader([]byte("{nope")))
		res := httptest.NewRecorder()
		createMux(s).ServeHTTP(res, r)
		require.Equal(t, http.StatusBadRequest, res.Code)
		s.AssertNotCalled(t, "PlaceBid", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestVerify(t *testing.T) {
	t.Parallel()
	s := &bidServiceMock{}
	req := SignedBid{BidParams: testParams(), SignedMessage: "0xsig"}
	s.On("Verify", mock.Anything, req.BidParams, "0xsig").Return(bids.Rejected(bids.ReasonNonceReplayed, "used"), nil)

	res := serve(createMux(s), http.MethodPost, "/bids/verify", req)
	require.Equal(t, http.StatusConflict, res.Code)
	var got bids.Verdict
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
	require.Equal(t, bids.ReasonNonceReplayed, got.Reason)
	require.False(t, got.Pass)
}

func TestEncodeBid(t *testing.T) {
	t.Parallel()
	s := &bidServiceMock{}
	p := testParams()
	enc := bidmanager.EncodedBid{Payload: "0x01", Nonce: "5", ItemID: "0xitem"}
	s.On("EncodeBid", mock.Anything, p).Return(enc, bids.Passed(), nil)

	res := serve(createMux(s), http.MethodPost, "/bid", p)
	require.Equal(t, http.StatusOK, res.Code)
	var got bidmanager.EncodedBid
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
	require.Equal(t, enc, got)
}

func TestListing(t *testing.T) {
	t.Parallel()
	result := []bids.Bid{{BidParams: testParams(), ItemID: "0xitem", Version: "2.0"}}

	t.Run("by items", func(t *testing.T) {
		t.Parallel()
		s := &bidServiceMock{}
		s.On("ListByItems", mock.Anything, []string{"0xa", "0xb"}, bids.StatusActive).Return(result, nil)

		res := serve(createMux(s), http.MethodPost, "/bids/list", ListRequest{ItemIDs: []string{"0xa", "0xb"}, Status: "active"})
		require.Equal(t, http.StatusOK, res.Code)
		var got []bids.Bid
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
		require.Equal(t, result, got)

		res = serve(createMux(s), http.MethodPost, "/bids/list", ListRequest{})
		require.Equal(t, http.StatusBadRequest, res.Code)
	})

	t.Run("by item", func(t *testing.T) {
		t.Parallel()
		s := &bidServiceMock{}
		s.On("GetByItem", mock.Anything, "0xitem", bids.StatusCancelled).Return(result, nil)

		res := serve(createMux(s), http.MethodGet, "/bids/0xitem?status=cancelled", nil)
		require.Equal(t, http.StatusOK, res.Code)

		res = serve(createMux(s), http.MethodGet, "/bids/0xitem?status=bogus", nil)
		require.Equal(t, http.StatusBadRequest, res.Code)
		s.AssertNumberOfCalls(t, "GetByItem", 1)
	})

	t.Run("by account", func(t *testing.T) {
		t.Parallel()
		s := &bidServiceMock{}
		s.On("ListByAccount", mock.Anything, "0xabc", bids.StatusAll).Return([]bids.Bid{}, nil)

		res := serve(createMux(s), http.MethodGet, "/bids/accounts/0xabc", nil)
		require.Equal(t, http.StatusOK, res.Code)
		require.JSONEq(t, "[]", res.Body.String())
	})
}

func TestCancel(t *testing.T) {
	t.Parallel()

	t.Run("encode", func(t *testing.T) {
		t.Parallel()
		s := &bidServiceMock{}
		s.On("CancelEncode", mock.Anything, "0xsig").Return("0xhash", bids.Passed(), nil)

		res := serve(createMux(s), http.MethodPost, "/bids/cancel/encode", CancelRequest{BidMessageSignature: "0xsig"})
		require.Equal(t, http.StatusOK, res.Code)
		var got CancelEncodeResponse
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
		require.Equal(t, "0xhash", got.CancelMessageHash)
	})

	t.Run("cancel", func(t *testing.T) {
		t.Parallel()
		s := &bidServiceMock{}
		cancelled := bids.Bid{BidParams: testParams(), ItemID: "0xitem", Version: "2.0", CancelDate: 99}
		s.On("CancelBid", mock.Anything, "0xsig", "0xcancel").Return(cancelled, bids.Passed(), nil)
		s.On("CancelBid", mock.Anything, "0xsig", "0xother").
			Return(bids.Bid{}, bids.Rejected(bids.ReasonWrongSigner, "wrong signer"), nil)

		req := CancelRequest{BidMessageSignature: "0xsig", CancelMessageSignature: "0xcancel"}
		res := serve(createMux(s), http.MethodPut, "/bids/cancel", req)
		require.Equal(t, http.StatusOK, res.Code)
		var got bids.Bid
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
		require.Equal(t, int64(99), got.CancelDate)
		require.Empty(t, got.SignedMessage)

		req.CancelMessageSignature = "0xother"
		res = serve(createMux(s), http.MethodPut, "/bids/cancel", req)
		require.Equal(t, http.StatusMethodNotAllowed, res.Code)
		var verdict bids.Verdict
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &verdict))
		require.Equal(t, bids.ReasonWrongSigner, verdict.Reason)

		res = serve(createMux(s), http.MethodPost, "/bids/cancel", req)
		require.Equal(t, http.StatusMethodNotAllowed, res.Code)
		s.AssertNumberOfCalls(t, "CancelBid", 2)
	})
}

func serve(h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func testParams() bids.BidParams {
	return bids.BidParams{
		Account:         "0x35888AD3f1C0b39244Bb54746B96Ee84A5d97a53",
		Nonce:           "5",
		BidAmount:       "100",
		MinimumBid:      "1",
		ContractAddress: "0xC2e9678A71e50E5AEd036e00e9c5caeb1aC5987D",
		TokenID:         "0x1",
		StartBlock:      "1",
		ExpireBlock:     "10",
	}
}

type bidServiceMock struct {
	mock.Mock
}

func (m *bidServiceMock) EncodeBid(ctx context.Context, p bids.BidParams) (bidmanager.EncodedBid, bids.Verdict, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(bidmanager.EncodedBid), args.Get(1).(bids.Verdict), args.Error(2)
}

func (m *bidServiceMock) PlaceBid(ctx context.Context, p bids.BidParams, sig string) (bids.Bid, bids.Verdict, error) {
	args := m.Called(ctx, p, sig)
	return args.Get(0).(bids.Bid), args.Get(1).(bids.Verdict), args.Error(2)
}

func (m *bidServiceMock) Verify(ctx context.Context, p bids.BidParams, sig string) (bids.Verdict, error) {
	args := m.Called(ctx, p, sig)
	return args.Get(0).(bids.Verdict), args.Error(1)
}

func (m *bidServiceMock) CancelBid(ctx context.Context, bidSig, cancelSig string) (bids.Bid, bids.Verdict, error) {
	args := m.Called(ctx, bidSig, cancelSig)
	return args.Get(0).(bids.Bid), args.Get(1).(bids.Verdict), args.Error(2)
}

func (m *bidServiceMock) CancelEncode(ctx context.Context, bidSig string) (string, bids.Verdict, error) {
	args := m.Called(ctx, bidSig)
	return args.String(0), args.Get(1).(bids.Verdict), args.Error(2)
}

func (m *bidServiceMock) ListByItems(ctx context.Context, ids []string, f bids.StatusFilter) ([]bids.Bid, error) {
	args := m.Called(ctx, ids, f)
	return args.Get(0).([]bids.Bid), args.Error(1)
}

func (m *bidServiceMock) GetByItem(ctx context.Context, id string, f bids.StatusFilter) ([]bids.Bid, error) {
	args := m.Called(ctx, id, f)
	return args.Get(0).([]bids.Bid), args.Error(1)
}

func (m *bidServiceMock) ListByAccount(ctx context.Context, account string, f bids.StatusFilter) ([]bids.Bid, error) {
	args := m.Called(ctx, account, f)
	return args.Get(0).([]bids.Bid), args.Error(1)
}
