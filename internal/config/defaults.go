package config

// DefaultRPCURL is the default Ethereum RPC endpoint, a local development node.
const DefaultRPCURL = "http://127.0.0.1:8545"

// DefaultStoreAddr is the default Redis address for the shared nonce delta.
const DefaultStoreAddr = "127.0.0.1:6379"

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.noncer",
		Chain: ChainConfig{
			RPC:            DefaultRPCURL,
			ChainID:        0, // 0 asks the node via eth_chainId
			TimeoutSeconds: 15,
			RatePerSecond:  10,
			Burst:          20,
		},
		Store: StoreConfig{
			Backend:            StoreRedis,
			Addr:               DefaultStoreAddr,
			DB:                 0,
			PoolSize:           10,
			DialTimeoutSeconds: 5,
			IOTimeoutSeconds:   3,
		},
		Signer: SignerConfig{
			KeyFile:         "",
			KeyFormat:       KeyFormatAuto,
			DerivationIndex: 0,
		},
		Metrics: MetricsConfig{
			Listen: "",
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Color:         "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "~/.noncer/noncer.log",
			JSON:  false,
		},
	}
}
