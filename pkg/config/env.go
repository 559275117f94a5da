package config

// EnvPrefix is passed to envconfig; individual fields carry fully qualified
// names so the prefix stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "SUBVAULT_DB_DSN"
	EnvDBHost = "SUBVAULT_DB_HOST"
	EnvDBUser = "SUBVAULT_DB_USER"
	EnvDBName = "SUBVAULT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
