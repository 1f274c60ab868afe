package orman

type Config struct {
	// URL is the URL of the Ethereum node hosting the registry.
	URL string

	// RegistryContractAddress is the deployed root registry address in hex string.
	RegistryContractAddress string

	// PrivateKey signs root submissions, hex string with or without 0x.
	PrivateKey string
}
