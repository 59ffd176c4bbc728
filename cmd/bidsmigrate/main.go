package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	golog "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zer0-os/bids-core/cmd/bidsd/store"
	"github.com/zer0-os/bids-core/cmd/bidsmigrate/gcpblob"
	"github.com/zer0-os/bids-core/cmd/bidsmigrate/migrator"
	"github.com/zer0-os/bids-core/cmd/common"
	"github.com/zer0-os/bids-core/msgbroker"
	"github.com/zer0-os/bids-core/msgbroker/gpubsub"
)

var (
	cliName = "bidsmigrate"
	log     = golog.Logger(cliName)
	v       = viper.New()
)

func init() {
	flags := []common.Flag{
		{Name: "postgres-uri", DefValue: "", Description: "PostgreSQL URI"},
		{Name: "store-timeout", DefValue: "1m", Description: "Timeout of every store call"},
		{Name: "gcs-bucket", DefValue: "", Description: "GCS bucket of legacy documents and exports"},
		{Name: "gcs-prefix", DefValue: "", Description: "Prefix of the legacy documents in the bucket"},
		{Name: "gcs-credentials", DefValue: "", Description: "GCS credentials JSON, default credentials if empty"},
		{Name: "archive", DefValue: false, Description: "Import legacy documents into the archive table"},
		{Name: "concurrency", DefValue: 4, Description: "Legacy documents imported at the same time"},
		{Name: "output", DefValue: "bids-history.json", Description: "Exported history file"},
		{Name: "upload", DefValue: false, Description: "Upload the exported history to the GCS bucket"},
		{Name: "publish", DefValue: false, Description: "Publish the exported history to the msg broker"},
		{Name: "batch-size", DefValue: 100, Description: "Events per published batch"},
		{Name: "gpubsub-project-id", DefValue: "", Description: "Google PubSub project id"},
		{Name: "gpubsub-api-key", DefValue: "", Description: "Google PubSub API key"},
		{Name: "msgbroker-topic-prefix", DefValue: "", Description: "Topic prefix to use for msg broker topics"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
		{Name: "log-levels", DefValue: "", Description: "Per-subsystem levels as system=level", Repeatable: true},
	}

	common.ConfigureCLI(v, "BIDS", flags, rootCmd)
	rootCmd.AddCommand(importArchiveCmd, expireLegacyCmd, findDuplicatesCmd,
		exportHistoryCmd, importFilesCmd, tailEventsCmd)
}

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "bidsmigrate moves historical bids into the ledger store",
	Long:  "bidsmigrate moves historical bids into the ledger store and replays them as bid events",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		common.ExpandEnvVars(v, v.AllSettings())
		err := common.ConfigureLogging(v)
		common.CheckErrf("setting log levels: %v", err)
	},
}

var importArchiveCmd = &cobra.Command{
	Use:   "import-archive",
	Short: "Restore archived bids as cancelled bids",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		withMigrator(func(ctx context.Context, m *migrator.Migrator) error {
			_, err := m.ImportArchive(ctx)
			return err
		})
	},
}

var expireLegacyCmd = &cobra.Command{
	Use:   "expire-legacy",
	Short: "Close the block window of unversioned bids",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		withMigrator(func(ctx context.Context, m *migrator.Migrator) error {
			_, err := m.ExpireLegacy(ctx)
			return err
		})
	},
}

var findDuplicatesCmd = &cobra.Command{
	Use:   "find-duplicates",
	Short: "Report nonces used by more than one bid of an account",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		withMigrator(func(ctx context.Context, m *migrator.Migrator) error {
			dups, err := m.FindDuplicates(ctx)
			if err != nil {
				return err
			}
			for _, d := range dups {
				fmt.Printf("%s\t%s\t%d\n", d.Account, d.Nonce, d.Total)
			}
			return nil
		})
	},
}

var exportHistoryCmd = &cobra.Command{
	Use:   "export-history",
	Short: "Export stored bids as placement and cancellation events",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		withMigrator(func(ctx context.Context, m *migrator.Migrator) error {
			h, err := m.ExportHistory(ctx)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := migrator.WriteHistory(&buf, h); err != nil {
				return err
			}
			output := v.GetString("output")
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("writing %s: %s", output, err)
			}
			log.Infof("history written to %s", output)

			if v.GetBool("upload") {
				b, err := gcpblob.New(v.GetString("gcs-bucket"), v.GetString("gcs-credentials"))
				if err != nil {
					return err
				}
				defer closeLog("gcs client", b.Close)
				url, err := b.Store(ctx, filepath.Base(output), bytes.NewReader(buf.Bytes()))
				if err != nil {
					return err
				}
				log.Infof("history uploaded to %s", url)
			}

			if v.GetBool("publish") {
				mb, err := newMsgBroker()
				if err != nil {
					return err
				}
				defer closeLog("msg broker", mb.Close)
				n, err := migrator.PublishHistory(ctx, mb, h, v.GetInt("batch-size"))
				if err != nil {
					return fmt.Errorf("publishing history after %d events: %s", n, err)
				}
				log.Infof("%d events published", n)
			}
			return nil
		})
	},
}

var importFilesCmd = &cobra.Command{
	Use:   "import-files",
	Short: "Import bids from legacy per-item documents in a GCS bucket",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		withMigrator(func(ctx context.Context, m *migrator.Migrator) error {
			b, err := gcpblob.New(v.GetString("gcs-bucket"), v.GetString("gcs-credentials"))
			if err != nil {
				return err
			}
			defer closeLog("gcs client", b.Close)
			sum, err := m.ImportFiles(ctx, b, v.GetString("gcs-prefix"), v.GetBool("archive"))
			if err != nil {
				return err
			}
			fmt.Println(sum)
			return nil
		})
	},
}

var tailEventsCmd = &cobra.Command{
	Use:   "tail-events",
	Short: "Print bid events as they're published",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		mb, err := newMsgBroker()
		common.CheckErr(err)
		common.CheckErr(msgbroker.RegisterHandlers(mb, eventPrinter{}))
		common.HandleInterrupt(func() { closeLog("msg broker", mb.Close) })
	},
}

type eventPrinter struct{}

func (eventPrinter) OnBidPlaced(_ context.Context, e msgbroker.Envelope, b msgbroker.BidPlaced) error {
	fmt.Printf("%s\t%s\t%s\t%s\t%s\n", e.ID, e.EventType, b.Account, b.Nonce, b.ItemID)
	return nil
}

func (eventPrinter) OnBidCancelled(_ context.Context, e msgbroker.Envelope, b msgbroker.BidCancelled) error {
	fmt.Printf("%s\t%s\t%s\t%s\t%s\n", e.ID, e.EventType, b.Account, b.Nonce, b.ItemID)
	return nil
}

func withMigrator(f func(context.Context, *migrator.Migrator) error) {
	s, err := store.New(v.GetString("postgres-uri"), v.GetDuration("store-timeout"))
	common.CheckErrf("creating store: %s", err)
	defer closeLog("store", s.Close)

	m, err := migrator.New(s, v.GetInt("concurrency"))
	common.CheckErr(err)
	if err := f(context.Background(), m); err != nil {
		log.Errorf("migration failed: %s", err)
		closeLog("store", s.Close)
		os.Exit(1)
	}
}

func newMsgBroker() (*gpubsub.PubsubMsgBroker, error) {
	return gpubsub.New(
		v.GetString("gpubsub-project-id"),
		v.GetString("gpubsub-api-key"),
		v.GetString("msgbroker-topic-prefix"),
		cliName)
}

func closeLog(name string, f func() error) {
	if err := f(); err != nil {
		log.Errorf("closing %s: %s", name, err)
	}
}

func main() {
	common.CheckErr(common.LoadDotEnv())
	common.CheckErr(rootCmd.Execute())
}
