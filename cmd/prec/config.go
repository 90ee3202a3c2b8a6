package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/prec/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Get or set configuration values",
	Long: `Get or set configuration values.

Usage:
  prec config                          # Show all config
  prec config backend                  # Get specific value
  prec config server.rate-limit 20     # Set value

Keys:
  topics                 Topic count K (read-only, use 'prec resize')
  backend                sqlite or graph (existing data is not migrated)
  cache-results          true or false
  log-level              trace, debug, info, warn, error, disabled
  breaker.max-failures   Consecutive storage failures before failing fast
  breaker.open-timeout   How long to fail fast, e.g. 30s
  server.addr            Listen address for 'prec serve'
  server.rate-limit      Requests per second, 0 disables limiting
  server.burst           Token bucket size`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

// UpdateResponse is the response for config set commands.
type UpdateResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

var errUnknownKey = errors.New("unknown configuration key")

func runConfig(cmd *cobra.Command, args []string) error {
	repoRoot := mustFindRepository()
	cfg := mustLoadConfig(repoRoot)

	values := configValues(cfg)

	// No args: show all config
	if len(args) == 0 {
		if humanOutput {
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%-22s %s\n", k+":", values[k])
			}
		} else {
			outputJSON(values)
		}
		return nil
	}

	key := normalizeKey(args[0])

	// One arg: get specific value
	if len(args) == 1 {
		v, ok := values[key]
		if !ok {
			exitWithError(ExitError, "%v: %s", errUnknownKey, args[0])
		}
		if humanOutput {
			fmt.Println(v)
		} else {
			outputJSON(map[string]string{key: v})
		}
		return nil
	}

	// Two args: set value
	value := args[1]
	if err := setConfigValue(cfg, key, value); err != nil {
		code := ExitConfigError
		if errors.Is(err, errUnknownKey) {
			code = ExitError
		}
		exitWithError(code, "%v", err)
	}
	if err := cfg.Save(repoRoot); err != nil {
		exitWithError(ExitError, "saving config: %v", err)
	}

	if humanOutput {
		fmt.Printf("Updated %s to %s\n", key, value)
	} else {
		outputJSON(UpdateResponse{Status: "updated", Key: key, Value: value})
	}
	return nil
}

// configValues flattens cfg into the keys accepted by `prec config`.
func configValues(cfg *config.Config) map[string]string {
	return map[string]string{
		"topics":               strconv.Itoa(cfg.Topics),
		"backend":              cfg.Backend,
		"cache-results":        strconv.FormatBool(cfg.CacheResults),
		"log-level":            cfg.LogLevel,
		"breaker.max-failures": strconv.FormatUint(uint64(cfg.Breaker.MaxFailures), 10),
		"breaker.open-timeout": cfg.Breaker.OpenTimeout.String(),
		"server.addr":          cfg.Server.Addr,
		"server.rate-limit":    strconv.FormatFloat(cfg.Server.RateLimit, 'g', -1, 64),
		"server.burst":         strconv.Itoa(cfg.Server.Burst),
	}
}

// setConfigValue parses value into the field named by key and validates the result.
// cfg is left unchanged on error.
func setConfigValue(cfg *config.Config, key, value string) error {
	next := *cfg
	var err error

	switch key {
	case "topics":
		return errors.New("topics cannot be set directly; use 'prec resize K'")
	case "backend":
		next.Backend = value
	case "cache-results":
		next.CacheResults, err = strconv.ParseBool(value)
	case "log-level":
		next.LogLevel = value
	case "breaker.max-failures":
		var n uint64
		n, err = strconv.ParseUint(value, 10, 32)
		next.Breaker.MaxFailures = uint32(n)
	case "breaker.open-timeout":
		next.Breaker.OpenTimeout, err = time.ParseDuration(value)
	case "server.addr":
		next.Server.Addr = value
	case "server.rate-limit":
		next.Server.RateLimit, err = strconv.ParseFloat(value, 64)
	case "server.burst":
		next.Server.Burst, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("%w: %s", errUnknownKey, key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}

	*cfg = next
	return nil
}

// normalizeKey converts key formats (server.rate_limit, Server.Rate-Limit) to consistent format
func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "-")
	return key
}
