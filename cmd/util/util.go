package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/serializer"
	"github.com/ValentinKolb/rkv/rpc/transport"
	"github.com/ValentinKolb/rkv/rpc/transport/tcp"
	"github.com/ValentinKolb/rkv/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at the specified width, breaking at spaces
func WrapString(s string) string {
	var result strings.Builder
	lineLength := 0

	for _, word := range strings.Fields(s) {
		if lineLength+len(word) > Wrap {
			result.WriteString("\n")
			lineLength = 0
		} else if lineLength > 0 {
			result.WriteString(" ")
			lineLength++
		}

		result.WriteString(word)
		lineLength += len(word)
	}

	return result.String()
}

// SetupRPCClientFlags adds the common client flags to a command.
// All flags can also be set via RKV_ prefixed environment variables.
func SetupRPCClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Int("timeout", 10, WrapString("Request timeout in seconds"))
	cmd.PersistentFlags().StringSlice("endpoints", []string{"localhost:8080"}, WrapString("Server endpoints to connect to (comma separated)"))
	cmd.PersistentFlags().Int("conn-per-endpoint", 1, WrapString("Number of connections to open per endpoint"))
	cmd.PersistentFlags().Int("retries", 3, WrapString("Number of times a request is retried after a retryable error"))
	cmd.PersistentFlags().Int("num-shards", 0, WrapString("Number of shards the cluster is configured with (0 = server default)"))
}

// InitClientConfig initializes viper for client commands
func InitClientConfig() {
	// Load .env file if it exists (ignore errors)
	_ = godotenv.Load()

	// Configure viper for environment variables
	viper.SetEnvPrefix("rkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// GetClientConfig builds the client configuration from the bound flags
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		Endpoints:              viper.GetStringSlice("endpoints"),
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("retries"),
		ConnectionsPerEndpoint: viper.GetInt("conn-per-endpoint"),
		NumShards:              viper.GetInt("num-shards"),
	}
}

// GetSerializer returns the serializer selected via the --serializer flag
func GetSerializer() (serializer.IRPCSerializer, error) {
	name := viper.GetString("serializer")
	switch name {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer: %s (supported: json, gob, binary)", name)
	}
}

// GetTransport returns the client transport selected via the --transport flag
func GetTransport() (transport.IRPCClientTransport, error) {
	name := viper.GetString("transport")
	switch name {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s (supported: tcp, unix)", name)
	}
}

// BindCommandFlags binds all flags of the command (and its parents) to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.PersistentFlags())
}
