package serve

import (
	"fmt"
	"strings"

	cmdUtil "github.com/ValentinKolb/rkv/cmd/util"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/server"
	"github.com/ValentinKolb/rkv/rpc/transport"
	"github.com/ValentinKolb/rkv/rpc/transport/tcp"
	"github.com/ValentinKolb/rkv/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the rkv server",
		Long:    `Start the rkv server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is RKV_<flag> (e.g. RKV_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "node-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(cluster mode) Unique identifier for this node (e.g. 'node-1'). Must match one of the keys in cluster-members"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(cluster mode) Comma-separated list of node addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'. If empty the server runs standalone with local shards"))

	key = "num-shards"
	ServeCmd.PersistentFlags().Int(key, 32, cmdUtil.WrapString("Number of shards the key space is partitioned into"))

	key = "replicas"
	ServeCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("(cluster mode) Number of nodes each shard is replicated to"))

	key = "engine"
	ServeCmd.PersistentFlags().String(key, "cedar", cmdUtil.WrapString("Storage engine used for the in-memory database (currently: cedar)"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(cluster mode) Average round trip time in milliseconds between two nodes. Election timeouts, heartbeat interval and RPC timeouts are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10000, cmdUtil.WrapString("(cluster mode) How many applied log entries trigger an automatic snapshot. Set to 0 to disable automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5000, cmdUtil.WrapString("(cluster mode) Number of applied entries retained in the log after a snapshot is taken"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(cluster mode) Directory used for storing the log and snapshots"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("(cluster mode) Proposal timeout in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/rkv.sock, ...)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.NumShards = viper.GetInt("num-shards")
	serveCmdConfig.Replicas = viper.GetInt("replicas")
	serveCmdConfig.Engine = viper.GetString("engine")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.NumShards <= 0 {
		return fmt.Errorf("num-shards must be positive, got %d", serveCmdConfig.NumShards)
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		serveCmdConfig.ClusterMembers = make(map[string]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			serveCmdConfig.ClusterMembers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	// parse node id (required in cluster mode, must be a known member)
	serveCmdConfig.NodeID = viper.GetString("node-id")
	if !serveCmdConfig.IsSingleNode() {
		if serveCmdConfig.NodeID == "" {
			return fmt.Errorf("node-id is required when cluster-members is set")
		}
		if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.NodeID]; !ok {
			return fmt.Errorf("no address found for node ID %q in cluster members", serveCmdConfig.NodeID)
		}
		if serveCmdConfig.Replicas <= 0 {
			return fmt.Errorf("replicas must be positive, got %d", serveCmdConfig.Replicas)
		}
	}

	return nil
}

// run starts the rkv server
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	// parse the transport
	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "tcp":
		t = tcp.NewTCPDefaultServerTransport()
	case "unix":
		t = unix.NewUnixDefaultServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	return serv.Serve()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("rkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

}
