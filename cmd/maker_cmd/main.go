package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/obridge/maker-go/cmd"
	"github.com/obridge/maker-go/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "MAKER_CONFIG"
)

func main() {
	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	fmt.Printf("Maker server configuration file = %s\n", _config_file)

	// See if file exists
	if !cmd.FileExists(_config_file) {
		fmt.Printf("Maker server configuration file not found: %s\n", _config_file)
		return
	}

	// Read from config file.
	success := initializeViper(_config_file)
	if !success {
		return
	}

	// Logger preset, production JSON unless told otherwise.
	switch viper.GetString("LOG_MODE") {
	case "debug":
		logconfig.ConfigDebugLogger()
	case "info":
		logconfig.ConfigInfoLogger()
	default:
		logconfig.ConfigProductionLogger()
	}

	// Make the configuration
	msc := PrepareMakerServerConfig()
	if msc == nil {
		fmt.Printf("Error loading maker server configuration\n")
		return
	}

	fmt.Println("Starting maker server... press Ctrl+C to kill the server")
	// Start server and block.
	cmd.StartMakerServerAndWait(msc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareMakerServerConfig reads configuration variables and returns a MakerServerConfig.
func PrepareMakerServerConfig() *cmd.MakerServerConfig {
	return &cmd.MakerServerConfig{
		// state side
		DbFilePath:    viper.GetString("DB_FILE_PATH"),
		RouteFilePath: viper.GetString("ROUTE_FILE_PATH"),
		// ingest side
		NatsUrl:       viper.GetString("NATS_URL"),
		NatsStream:    viper.GetString("NATS_STREAM"),
		NatsDurable:   viper.GetString("NATS_DURABLE"),
		SubjectPrefix: viper.GetString("NATS_SUBJECT_PREFIX"),
		Workers:       viper.GetInt("INGEST_WORKERS"),
		InstanceCount: viper.GetInt("INSTANCE_COUNT"),
		InstanceID:    viper.GetInt("INSTANCE_ID"),
		// registry side
		RegistryRpcUrl:       viper.GetString("REGISTRY_RPC_URL"),
		RegistryContractAddr: viper.GetString("REGISTRY_CONTRACT_ADDR"),
		RegistryPrivKey:      viper.GetString("REGISTRY_PRIV_KEY"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}
}
