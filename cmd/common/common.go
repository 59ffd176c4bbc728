package common

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zer0-os/bids-core/logging"
)

// Flag describes a configuration flag.
type Flag struct {
	Name        string
	DefValue    interface{}
	Description string
	Repeatable  bool
}

// LoadDotEnv loads a .env file from the working directory, if present, so its
// values are visible to the env lookups of ConfigureCLI.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading env files: %s", err)
	}
	return nil
}

// ConfigureCLI configures a Viper environment with flags and envs.
func ConfigureCLI(v *viper.Viper, envPrefix string, flags []Flag, flagSet *cobra.Command) {
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	fs := flagSet.PersistentFlags()
	for _, flag := range flags {
		switch defval := flag.DefValue.(type) {
		case string:
			if flag.Repeatable {
				var vals []string
				if defval != "" {
					vals = []string{defval}
				}
				fs.StringSlice(flag.Name, vals, flag.Description)
			} else {
				fs.String(flag.Name, defval, flag.Description)
			}
			v.SetDefault(flag.Name, defval)
		case bool:
			fs.Bool(flag.Name, defval, flag.Description)
			v.SetDefault(flag.Name, defval)
		case int:
			fs.Int(flag.Name, defval, flag.Description)
			v.SetDefault(flag.Name, defval)
		case int64:
			fs.Int64(flag.Name, defval, flag.Description)
			v.SetDefault(flag.Name, defval)
		case uint64:
			fs.Uint64(flag.Name, defval, flag.Description)
			v.SetDefault(flag.Name, defval)
		case time.Duration:
			fs.Duration(flag.Name, defval, flag.Description)
			v.SetDefault(flag.Name, defval)
		default:
			log.Fatalf("unknown flag type: %T", flag.DefValue)
		}
		if err := v.BindPFlag(flag.Name, fs.Lookup(flag.Name)); err != nil {
			log.Fatalf("binding flag %s: %s", flag.Name, err)
		}
	}
}

// ExpandEnvVars expands env vars present in the config.
func ExpandEnvVars(v *viper.Viper, settings map[string]interface{}) {
	for name, val := range settings {
		if str, ok := val.(string); ok {
			v.Set(name, os.ExpandEnv(str))
		}
	}
}

// ConfigureLogging configures the default logger with the right setup depending flag/envs.
// All subsystems get Info or Debug depending on log-debug, and then the
// "system=level" pairs of log-levels, if any, override them.
func ConfigureLogging(v *viper.Viper) error {
	if v.GetBool("log-json") {
		golog.SetupLogging(golog.Config{
			Format: golog.JSONOutput,
			Stderr: false,
			Stdout: true,
			Level:  golog.LevelInfo,
		})
	}

	logLevel := golog.LevelInfo
	if v.GetBool("log-debug") {
		logLevel = golog.LevelDebug
	}
	golog.SetAllLoggers(logLevel)

	overrides, err := logging.ParseLogLevels(ParseStringSlice(v, "log-levels"))
	if err != nil {
		return fmt.Errorf("parsing log levels: %s", err)
	}
	if err := logging.SetLogLevels(overrides); err != nil {
		return fmt.Errorf("set log levels: %s", err)
	}
	return nil
}

// ParseStringSlice returns a single slice of values that may have been set by either repeating
// a flag or using comma seperation in a single flag.
// This is used to enable repeated flags as well as env vars that can't be repeated.
func ParseStringSlice(v *viper.Viper, key string) []string {
	var vals []string
	for _, val := range v.GetStringSlice(key) {
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				vals = append(vals, part)
			}
		}
	}
	return vals
}

// CheckErr ends in a fatal log if err is not nil.
func CheckErr(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

// CheckErrf ends in a fatal log if err is not nil.
func CheckErrf(format string, err error) {
	if err != nil {
		log.Fatalf(format, err)
	}
}

// HandleInterrupt attempts to cleanup while allowing the user to force stop the process.
func HandleInterrupt(cleanup func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	fmt.Println("Gracefully stopping... (press Ctrl+C again to force)")
	cleanup()
	os.Exit(1)
}
