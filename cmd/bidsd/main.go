package main

import (
	"encoding/json"
	_ "net/http/pprof"

	golog "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zer0-os/bids-core/cmd/bidsd/service"
	"github.com/zer0-os/bids-core/cmd/common"
	daemon "github.com/zer0-os/bids-core/common"
	"github.com/zer0-os/bids-core/msgbroker/gpubsub"
)

var (
	daemonName = "bidsd"
	log        = golog.Logger(daemonName)
	v          = viper.New()
)

func init() {
	flags := []common.Flag{
		{Name: "http-addr", DefValue: ":8888", Description: "HTTP API listen address"},
		{Name: "postgres-uri", DefValue: "", Description: "PostgreSQL URI"},
		{Name: "store-timeout", DefValue: "10s", Description: "Timeout of every store call"},
		{Name: "eth-endpoint", DefValue: "", Description: "Ethereum JSON-RPC endpoint"},
		{Name: "eth-timeout", DefValue: "10s", Description: "Timeout of every chain call"},
		{Name: "eth-attempts", DefValue: uint64(3), Description: "Attempts of a failing chain read"},
		{Name: "ledger-contract", DefValue: "", Description: "Address of the bid ledger contract"},
		{Name: "default-nft-contract", DefValue: "", Description: "NFT contract of bids naming a payment token"},
		{Name: "token-cache-size", DefValue: 1024, Description: "Number of cached payment tokens"},
		{Name: "token-cache-ttl", DefValue: "10m", Description: "Lifetime of a cached payment token"},
		{Name: "gpubsub-project-id", DefValue: "", Description: "Google PubSub project id"},
		{Name: "gpubsub-api-key", DefValue: "", Description: "Google PubSub API key"},
		{Name: "msgbroker-topic-prefix", DefValue: "", Description: "Topic prefix to use for msg broker topics"},
		{Name: "notify-retries", DefValue: uint64(5), Description: "Attempts to publish a bid event"},
		{Name: "notify-retry-delay", DefValue: "500ms", Description: "Base delay between publish attempts"},
		{Name: "notify-queue-size", DefValue: 1000, Description: "Pending bid events before dropping"},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
		{Name: "log-levels", DefValue: "", Description: "Per-subsystem levels as system=level", Repeatable: true},
	}

	common.ConfigureCLI(v, "BIDS", flags, rootCmd)
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "bidsd verifies and stores NFT bids",
	Long:  "bidsd verifies signed NFT bids against the ledger contract, stores them and announces placements and cancellations",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		common.ExpandEnvVars(v, v.AllSettings())
		err := common.ConfigureLogging(v)
		common.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := json.MarshalIndent(redacted(v.AllSettings()), "", "  ")
		common.CheckErr(err)
		log.Infof("loaded config: %s", string(settings))

		if err := daemon.SetupInstrumentation(v.GetString("metrics-addr")); err != nil {
			log.Fatalf("booting instrumentation: %s", err)
		}

		mb, err := gpubsub.New(
			v.GetString("gpubsub-project-id"),
			v.GetString("gpubsub-api-key"),
			v.GetString("msgbroker-topic-prefix"),
			daemonName)
		common.CheckErrf("creating google pubsub client: %s", err)

		config := service.Config{
			ListenAddr: v.GetString("http-addr"),

			PostgresURI:  v.GetString("postgres-uri"),
			StoreTimeout: v.GetDuration("store-timeout"),

			EthEndpoint:        v.GetString("eth-endpoint"),
			EthTimeout:         v.GetDuration("eth-timeout"),
			EthAttempts:        v.GetUint("eth-attempts"),
			LedgerContract:     v.GetString("ledger-contract"),
			DefaultNFTContract: v.GetString("default-nft-contract"),
			TokenCacheSize:     v.GetInt("token-cache-size"),
			TokenCacheTTL:      v.GetDuration("token-cache-ttl"),

			NotifyAttempts:   v.GetUint("notify-retries"),
			NotifyRetryDelay: v.GetDuration("notify-retry-delay"),
			NotifyQueueSize:  v.GetInt("notify-queue-size"),
		}
		serv, err := service.New(mb, config)
		common.CheckErr(err)

		common.HandleInterrupt(func() {
			if err := serv.Close(); err != nil {
				log.Errorf("closing service: %s", err)
			}
			if err := mb.Close(); err != nil {
				log.Errorf("closing message broker: %s", err)
			}
		})
	},
}

// redacted hides credentials from the logged config.
func redacted(settings map[string]interface{}) map[string]interface{} {
	for _, k := range []string{"postgres-uri", "gpubsub-api-key", "eth-endpoint"} {
		if s, ok := settings[k].(string); ok && s != "" {
			settings[k] = "<redacted>"
		}
	}
	return settings
}

func main() {
	common.CheckErr(common.LoadDotEnv())
	common.CheckErr(rootCmd.Execute())
}
