package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	golog "github.com/ipfs/go-log/v2"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/cmd/bidsd/bidmanager"
	"github.com/zer0-os/bids-core/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// LogName is the logger name of the HTTP API.
	LogName = "bidsd/http-api"

	// RequestIDHeader carries the id of a request, generated if the client
	// doesn't send one.
	RequestIDHeader = "X-Request-Id"

	maxBodySize = 1 << 20
)

var (
	log = golog.Logger(LogName)
)

// BidService is the bid lifecycle exposed by the API.
type BidService interface {
	EncodeBid(ctx context.Context, p bids.BidParams) (bidmanager.EncodedBid, bids.Verdict, error)
	PlaceBid(ctx context.Context, p bids.BidParams, signedMessage string) (bids.Bid, bids.Verdict, error)
	Verify(ctx context.Context, p bids.BidParams, signedMessage string) (bids.Verdict, error)
	CancelBid(ctx context.Context, bidSignature, cancelSignature string) (bids.Bid, bids.Verdict, error)
	CancelEncode(ctx context.Context, bidSignature string) (string, bids.Verdict, error)
	ListByItems(ctx context.Context, itemIDs []string, f bids.StatusFilter) ([]bids.Bid, error)
	GetByItem(ctx context.Context, itemID string, f bids.StatusFilter) ([]bids.Bid, error)
	ListByAccount(ctx context.Context, account string, f bids.StatusFilter) ([]bids.Bid, error)
}

// SignedBid is a bid with its signature, as sent to place or verify it.
type SignedBid struct {
	bids.BidParams
	SignedMessage string `json:"signedMessage"`
}

// ListRequest asks for the bids of many items.
type ListRequest struct {
	ItemIDs []string `json:"itemIds"`
	Status  string   `json:"status,omitempty"`
}

// CancelRequest asks to cancel a bid.
type CancelRequest struct {
	BidMessageSignature    string `json:"bidMessageSignature"`
	CancelMessageSignature string `json:"cancelMessageSignature,omitempty"`
}

// CancelEncodeResponse is the digest a bidder signs to cancel a bid.
type CancelEncodeResponse struct {
	CancelMessageHash string `json:"cancelMessageHash"`
}

// NewServer returns a new http server serving the API.
func NewServer(listenAddr string, s BidService) (*http.Server, error) {
	if s == nil {
		return nil, errors.New("bid service is nil")
	}
	httpServer := &http.Server{
		Addr:              listenAddr,
		ReadHeaderTimeout: time.Second * 5,
		WriteTimeout:      time.Second * 30,
		Handler:           createMux(s),
	}

	log.Infof("Running HTTP API...")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	return httpServer, nil
}

func createMux(s BidService) http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern, operation string, h http.HandlerFunc) {
		mux.Handle(pattern, otelhttp.NewHandler(h, operation))
	}
	handle("/ping", "ping", allow(http.MethodGet, pingHandler))
	handle("/health", "health", allow(http.MethodGet, healthHandler))
	handle("/bid", "encode-bid", allow(http.MethodPost, encodeBidHandler(s)))
	handle("/bids", "place-bid", allow(http.MethodPost, placeBidHandler(s)))
	handle("/bids/list", "list-bids", allow(http.MethodPost, listHandler(s)))
	handle("/bids/verify", "verify-bid", allow(http.MethodPost, verifyHandler(s)))
	handle("/bids/cancel", "cancel-bid", allow(http.MethodPut, cancelHandler(s)))
	handle("/bids/cancel/encode", "encode-cancel", allow(http.MethodPost, cancelEncodeHandler(s)))
	handle("/bids/accounts/", "account-bids", allow(http.MethodGet, accountHandler(s)))
	handle("/bids/", "item-bids", allow(http.MethodGet, itemHandler(s)))

	return requestIDMiddleware(common.HTTPLoggerMiddleware(log, mux))
}

func pingHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("pong"))
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func encodeBidHandler(s BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p bids.BidParams
		if !decodeBody(w, r, &p) {
			return
		}
		enc, verdict, err := s.EncodeBid(r.Context(), p)
		if err != nil {
			serviceError(w, "encoding bid", err)
			return
		}
		if !verdict.Pass {
			writeJSON(w, verdict.Status, verdict)
			return
		}
		writeJSON(w, http.StatusOK, enc)
	}
}

func placeBidHandler(s BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignedBid
		if !decodeBody(w, r, &req) {
			return
		}
		b, verdict, err := s.PlaceBid(r.Context(), req.BidParams, req.SignedMessage)
		if err != nil {
			serviceError(w, "placing bid", err)
			return
		}
		if !verdict.Pass {
			writeJSON(w, verdict.Status, verdict)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func verifyHandler(s BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignedBid
		if !decodeBody(w, r, &req) {
			return
		}
		verdict, err := s.Verify(r.Context(), req.BidParams, req.SignedMessage)
		if err != nil {
			serviceError(w, "verifying bid", err)
			return
		}
		writeJSON(w, verdict.Status, verdict)
	}
}

func listHandler(s BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ListRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.ItemIDs) == 0 {
			malformed(w, "at least one item id is required")
			return
		}
		status := req.Status
		if status == "" {
			status = r.URL.Query().Get("status")
		}
		f, err := bids.ParseStatusFilter(status)
		if err != nil {
			malformed(w, err.Error())
			return
		}
		res, err := s.ListByItems(r.Context(), req.ItemIDs, f)
		if err != nil {
			serviceError(w, "listing bids", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func itemHandler(s BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := strings.TrimPrefix(r.URL.Path, "/bids/")
		if itemID == "" || strings.Contains(itemID, "/") {
			malformed(w, "invalid item id")
			return
		}
		f, err := bids.ParseStatusFilter(r.URL.Query().Get("status"))
		if err != nil {
			malformed(w, err.Error())
			return
		}
		res, err := s.GetByItem(r.Context(), itemID, f)
		if err != nil {
			serviceError(w, "getting item bids", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func accountHandler(s BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := strings.TrimPrefix(r.URL.Path, "/bids/accounts/")
		if account == "" || strings.Contains(account, "/") {
			malformed(w, "invalid account")
			return
		}
		f, err := bids.ParseStatusFilter(r.URL.Query().Get("status"))
		if err != nil {
			malformed(w, err.Error())
			return
		}
		res, err := s.ListByAccount(r.Context(), account, f)
		if err != nil {
			serviceError(w, "listing account bids", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func cancelHandler(s BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		b, verdict, err := s.CancelBid(r.Context(), req.BidMessageSignature, req.CancelMessageSignature)
		if err != nil {
			serviceError(w, "cancelling bid", err)
			return
		}
		if !verdict.Pass {
			writeJSON(w, verdict.Status, verdict)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func cancelEncodeHandler(s BidService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		hash, verdict, err := s.CancelEncode(r.Context(), req.BidMessageSignature)
		if err != nil {
			serviceError(w, "encoding cancel message", err)
			return
		}
		if !verdict.Pass {
			writeJSON(w, verdict.Status, verdict)
			return
		}
		writeJSON(w, http.StatusOK, CancelEncodeResponse{CancelMessageHash: hash})
	}
}

func allow(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			httpError(w, fmt.Sprintf("only %s method is allowed", method), http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		malformed(w, fmt.Sprintf("decoding request body: %s", err))
		return false
	}
	return true
}

func malformed(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, bids.Rejected(bids.ReasonMalformedBid, msg))
}

func serviceError(w http.ResponseWriter, action string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, bids.ErrChainUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusServiceUnavailable
	}
	httpError(w, fmt.Sprintf("%s: %s", action, err), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("marshaling response: %s", err)
	}
}

func httpError(w http.ResponseWriter, err string, status int) {
	log.Errorf("request error: %s", err)
	http.Error(w, err, status)
}
