package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	golog "github.com/ipfs/go-log/v2"
	"github.com/zer0-os/bids-core/cmd/bidsd/bidmanager"
	"github.com/zer0-os/bids-core/cmd/bidsd/chainclient"
	"github.com/zer0-os/bids-core/cmd/bidsd/httpapi"
	"github.com/zer0-os/bids-core/cmd/bidsd/notifier"
	"github.com/zer0-os/bids-core/cmd/bidsd/store"
	"github.com/zer0-os/bids-core/cmd/bidsd/verifier"
	"github.com/zer0-os/bids-core/msgbroker"
)

var log = golog.Logger("bidsd/service")

// Config defines params for Service configuration.
type Config struct {
	ListenAddr string

	PostgresURI  string
	StoreTimeout time.Duration

	EthEndpoint        string
	EthTimeout         time.Duration
	EthAttempts        uint
	LedgerContract     string
	DefaultNFTContract string
	TokenCacheSize     int
	TokenCacheTTL      time.Duration

	NotifyAttempts   uint
	NotifyRetryDelay time.Duration
	NotifyQueueSize  int
}

// Service wires the bid manager to postgres, the ledger contract and the
// message broker, and serves it over HTTP.
type Service struct {
	server  *http.Server
	closers []io.Closer
}

// New returns a new Service.
func New(mb msgbroker.MsgBroker, conf Config) (*Service, error) {
	if err := validateConfig(conf); err != nil {
		return nil, fmt.Errorf("config is invalid: %s", err)
	}

	s := &Service{}
	ctx, cancel := context.WithTimeout(context.Background(), conf.EthTimeout)
	defer cancel()
	eth, err := ethclient.DialContext(ctx, conf.EthEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dialing eth endpoint: %s", err)
	}
	s.closers = append(s.closers, closerFunc(func() error { eth.Close(); return nil }))

	chainConf := chainclient.DefaultConfig
	chainConf.LedgerAddress = common.HexToAddress(conf.LedgerContract)
	chainConf.CallTimeout = conf.EthTimeout
	chainConf.TokenCacheSize = conf.TokenCacheSize
	chainConf.TokenCacheTTL = conf.TokenCacheTTL
	if conf.EthAttempts > 0 {
		chainConf.Attempts = conf.EthAttempts
	}
	chain, err := chainclient.New(eth, chainConf)
	if err != nil {
		return nil, s.cleanupf("creating chain client: %s", err)
	}

	st, err := store.New(conf.PostgresURI, conf.StoreTimeout)
	if err != nil {
		return nil, s.cleanupf("creating store: %s", err)
	}
	s.closers = append(s.closers, st)

	notifyOpts := []notifier.Option{
		notifier.WithAttempts(conf.NotifyAttempts),
		notifier.WithRetryDelay(conf.NotifyRetryDelay),
		notifier.WithQueueSize(conf.NotifyQueueSize),
	}
	n, err := notifier.New(mb, notifyOpts...)
	if err != nil {
		return nil, s.cleanupf("creating notifier: %s", err)
	}
	s.closers = append(s.closers, n)

	v, err := verifier.New(chain)
	if err != nil {
		return nil, s.cleanupf("creating verifier: %s", err)
	}

	var bmOpts []bidmanager.Option
	if conf.DefaultNFTContract != "" {
		bmOpts = append(bmOpts, bidmanager.WithDefaultNFTContract(conf.DefaultNFTContract))
	}
	bm, err := bidmanager.New(st, chain, v, n, bmOpts...)
	if err != nil {
		return nil, s.cleanupf("creating bid manager: %s", err)
	}

	s.server, err = httpapi.NewServer(conf.ListenAddr, bm)
	if err != nil {
		return nil, s.cleanupf("creating http server: %s", err)
	}
	log.Infof("service listening at %s", conf.ListenAddr)

	return s, nil
}

// Close the service. The HTTP server stops first so no request races the
// store and notifier shutdown.
func (s *Service) Close() error {
	log.Info("closing service")
	defer log.Info("service was shutdown")

	var firstErr error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("shutting down http server: %s", err)
		}
	}
	if err := s.closeAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// closeAll closes components in reverse creation order, returning the first
// error and logging the rest.
func (s *Service) closeAll() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			if firstErr == nil {
				firstErr = err
				continue
			}
			log.Errorf("closing component: %s", err)
		}
	}
	s.closers = nil
	return firstErr
}

func (s *Service) cleanupf(format string, err error) error {
	if cerr := s.closeAll(); cerr != nil {
		log.Errorf("cleaning up: %s", cerr)
	}
	return fmt.Errorf(format, err)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func validateConfig(conf Config) error {
	if conf.ListenAddr == "" {
		return errors.New("listen address is empty")
	}
	if conf.PostgresURI == "" {
		return errors.New("postgres uri is empty")
	}
	if conf.EthEndpoint == "" {
		return errors.New("eth endpoint is empty")
	}
	if conf.EthTimeout <= 0 {
		return errors.New("eth timeout should be positive")
	}
	if !common.IsHexAddress(conf.LedgerContract) {
		return fmt.Errorf("ledger contract %q is not an address", conf.LedgerContract)
	}
	if conf.DefaultNFTContract != "" && !common.IsHexAddress(conf.DefaultNFTContract) {
		return fmt.Errorf("default nft contract %q is not an address", conf.DefaultNFTContract)
	}
	if conf.TokenCacheSize <= 0 {
		return errors.New("token cache size should be positive")
	}
	if conf.TokenCacheTTL <= 0 {
		return errors.New("token cache ttl should be positive")
	}
	return nil
}
