package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/julienstroheker/mavrelay/internal/mavlink"
)

// EnvPrefix is prepended to every environment variable read by Load
const EnvPrefix = "MAVRELAY"

// Keys shared by the viper instance, the command flags and config files
const (
	KeyConnect                = "connect"
	KeyVerbose                = "verbose"
	KeyLogLevel               = "log-level"
	KeyJSON                   = "json"
	KeyMAVLinkVersion         = "mavlink-version"
	KeyRouter                 = "router"
	KeyDispatchers            = "dispatchers"
	KeyQueueLimit             = "queue-limit"
	KeyBackoff                = "backoff"
	KeyBackoffMax             = "backoff-max"
	KeyPollTimeout            = "poll-timeout"
	KeySendTimeout            = "send-timeout"
	KeyReconnect              = "reconnect"
	KeyKeepFailedDestinations = "keep-failed-destinations"
	KeyStatsInterval          = "stats-interval"
	KeyAdminAddr              = "admin-addr"

	KeyAzureSASKeyName             = "azure.sas-key-name"
	KeyAzureSASKey                 = "azure.sas-key"
	KeyAzureSubscriptionID         = "azure.subscription-id"
	KeyAzureResourceGroup          = "azure.resource-group"
	KeyAzureEnsureHybridConnection = "azure.ensure-hybrid-connections"
)

// DefaultConnect is the endpoint used when none is configured
const DefaultConnect = "udpin:0.0.0.0:14550"

// Config holds the relay configuration
type Config struct {
	// Connect lists the endpoint addresses; index i becomes endpoint i
	Connect []string

	// Verbose logs every received and forwarded frame
	Verbose bool

	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string

	// JSON switches the log encoder to JSON
	JSON bool

	// MAVLinkVersion is the protocol version accepted on receive (1, 2 or any)
	MAVLinkVersion string

	Router      RouterMode
	Dispatchers int

	// QueueLimit bounds the queue router; 0 means unbounded
	QueueLimit int

	// Backoff is the pause after a receive that produced nothing. When
	// BackoffMax is set the pause grows exponentially up to it.
	Backoff    time.Duration
	BackoffMax time.Duration

	PollTimeout time.Duration
	SendTimeout time.Duration

	Reconnect              bool
	KeepFailedDestinations bool

	// StatsInterval is the period of the traffic summary log; 0 disables it
	StatsInterval time.Duration

	// AdminAddr is the listen address of the admin server; empty disables it
	AdminAddr string

	Azure AzureConfig
}

// AzureConfig holds Azure Relay credentials for hcin/hcout endpoints
type AzureConfig struct {
	SASKeyName string
	SASKey     string

	SubscriptionID string
	ResourceGroup  string

	// EnsureHybridConnections creates missing hybrid connections through ARM
	EnsureHybridConnections bool
}

// UsesSAS reports whether shared access keys are configured. Otherwise
// Azure AD credentials are used.
func (a AzureConfig) UsesSAS() bool {
	return a.SASKeyName != "" || a.SASKey != ""
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Connect:        []string{DefaultConnect},
		LogLevel:       "info",
		MAVLinkVersion: "2",
		Router:         RouterSync,
		Dispatchers:    runtime.GOMAXPROCS(0),
		Backoff:        time.Second,
		PollTimeout:    250 * time.Millisecond,
		SendTimeout:    time.Second,
		StatsInterval:  0,
	}
}

// NewViper returns a viper instance reading MAVRELAY_* environment
// variables with the defaults registered
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers the values of Default with v
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyConnect, d.Connect)
	v.SetDefault(KeyVerbose, d.Verbose)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyJSON, d.JSON)
	v.SetDefault(KeyMAVLinkVersion, d.MAVLinkVersion)
	v.SetDefault(KeyRouter, d.Router.String())
	v.SetDefault(KeyDispatchers, d.Dispatchers)
	v.SetDefault(KeyQueueLimit, d.QueueLimit)
	v.SetDefault(KeyBackoff, d.Backoff)
	v.SetDefault(KeyBackoffMax, d.BackoffMax)
	v.SetDefault(KeyPollTimeout, d.PollTimeout)
	v.SetDefault(KeySendTimeout, d.SendTimeout)
	v.SetDefault(KeyReconnect, d.Reconnect)
	v.SetDefault(KeyKeepFailedDestinations, d.KeepFailedDestinations)
	v.SetDefault(KeyStatsInterval, d.StatsInterval)
	v.SetDefault(KeyAdminAddr, d.AdminAddr)

	// registered so AutomaticEnv picks them up on Get
	v.SetDefault(KeyAzureSASKeyName, "")
	v.SetDefault(KeyAzureSASKey, "")
	v.SetDefault(KeyAzureSubscriptionID, "")
	v.SetDefault(KeyAzureResourceGroup, "")
	v.SetDefault(KeyAzureEnsureHybridConnection, false)
}

// Load builds a Config from v. Values come from bound flags, environment,
// a config file or the registered defaults, in viper's precedence order.
func Load(v *viper.Viper) *Config {
	return &Config{
		Connect:                splitList(v.GetStringSlice(KeyConnect)),
		Verbose:                v.GetBool(KeyVerbose),
		LogLevel:               v.GetString(KeyLogLevel),
		JSON:                   v.GetBool(KeyJSON),
		MAVLinkVersion:         v.GetString(KeyMAVLinkVersion),
		Router:                 RouterMode(strings.ToLower(v.GetString(KeyRouter))),
		Dispatchers:            v.GetInt(KeyDispatchers),
		QueueLimit:             v.GetInt(KeyQueueLimit),
		Backoff:                v.GetDuration(KeyBackoff),
		BackoffMax:             v.GetDuration(KeyBackoffMax),
		PollTimeout:            v.GetDuration(KeyPollTimeout),
		SendTimeout:            v.GetDuration(KeySendTimeout),
		Reconnect:              v.GetBool(KeyReconnect),
		KeepFailedDestinations: v.GetBool(KeyKeepFailedDestinations),
		StatsInterval:          v.GetDuration(KeyStatsInterval),
		AdminAddr:              v.GetString(KeyAdminAddr),
		Azure: AzureConfig{
			SASKeyName:              v.GetString(KeyAzureSASKeyName),
			SASKey:                  v.GetString(KeyAzureSASKey),
			SubscriptionID:          v.GetString(KeyAzureSubscriptionID),
			ResourceGroup:           v.GetString(KeyAzureResourceGroup),
			EnsureHybridConnections: v.GetBool(KeyAzureEnsureHybridConnection),
		},
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var problems []string

	if len(c.Connect) == 0 {
		problems = append(problems, "at least one connection is required")
	}
	if !validLogLevel(c.LogLevel) {
		problems = append(problems, fmt.Sprintf("unknown log level %q", c.LogLevel))
	}
	if _, err := mavlink.ParseVersion(c.MAVLinkVersion); err != nil {
		problems = append(problems, err.Error())
	}
	if !c.Router.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown router %q (want %s or %s)", c.Router, RouterSync, RouterQueue))
	}
	if c.Dispatchers < 0 {
		problems = append(problems, "dispatchers cannot be negative")
	}
	if c.QueueLimit < 0 {
		problems = append(problems, "queue limit cannot be negative")
	}
	if c.Backoff <= 0 {
		problems = append(problems, "backoff must be positive")
	}
	if c.BackoffMax != 0 && c.BackoffMax < c.Backoff {
		problems = append(problems, "backoff max must not be below backoff")
	}
	if c.PollTimeout <= 0 {
		problems = append(problems, "poll timeout must be positive")
	}
	if c.StatsInterval < 0 {
		problems = append(problems, "stats interval cannot be negative")
	}

	if c.Azure.UsesSAS() && (c.Azure.SASKeyName == "" || c.Azure.SASKey == "") {
		problems = append(problems, "both MAVRELAY_AZURE_SAS_KEY_NAME and MAVRELAY_AZURE_SAS_KEY are required for SAS auth")
	}
	if c.Azure.EnsureHybridConnections {
		if c.Azure.SubscriptionID == "" {
			problems = append(problems, "MAVRELAY_AZURE_SUBSCRIPTION_ID is required to ensure hybrid connections")
		}
		if c.Azure.ResourceGroup == "" {
			problems = append(problems, "MAVRELAY_AZURE_RESOURCE_GROUP is required to ensure hybrid connections")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}

// Version returns the parsed MAVLink version. Call Validate first.
func (c *Config) Version() mavlink.Version {
	v, _ := mavlink.ParseVersion(c.MAVLinkVersion)
	return v
}

// splitList flattens comma separated entries, which is how list values
// arrive from a single environment variable
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validLogLevel(s string) bool {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
