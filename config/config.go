// Package config loads node configuration from HCL files and command line
// flags, Constellation key names preserved for compatibility.
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	Verbosity    = "verbosity"
	AlwaysSendTo = "alwayssendto"
	Storage      = "storage"
	WorkDir      = "workdir"
	Url          = "url"
	PublicKeys   = "publickeys"
	PrivateKeys  = "privatekeys"
	OtherNodes   = "othernodes"
	Socket       = "socket"
	Port         = "port"
	GenerateKeys = "generate-keys"

	// discovery policy
	DisablePeerDiscovery       = "disablepeerdiscovery"
	DisableRemoteKeyValidation = "disableremotekeyvalidation"
	PartyInfoInterval          = "partyinfointerval"
	ExclusionTTL               = "exclusionttl"
)

func InitFlags() {
	pflag.String(Url, "", "URL other nodes advertise for this node")
	pflag.Int(Port, 9001, "Port to listen on for the public API")
	pflag.String(Socket, "kestrel.ipc", "IPC socket for the private API")
	pflag.String(WorkDir, ".", "Working directory for storage and the IPC socket")
	pflag.String(Storage, "kestrel.db", "Database storage file name")
	pflag.StringSlice(OtherNodes, nil, "Comma-separated list of known peer URLs")
	pflag.StringSlice(PublicKeys, nil, "Comma-separated list of public key files")
	pflag.StringSlice(PrivateKeys, nil, "Comma-separated list of private key files")
	pflag.StringSlice(AlwaysSendTo, nil, "Public keys to include as recipients on every payload")
	pflag.Bool(DisablePeerDiscovery, false, "Restrict party info updates to the configured peers")
	pflag.Bool(DisableRemoteKeyValidation, false, "Skip challenge validation of advertised keys")
	pflag.Duration(PartyInfoInterval, 30*time.Second, "Interval between party info polling rounds")
	pflag.Duration(ExclusionTTL, 10*time.Minute, "How long removed recipients stay excluded")
	pflag.Int(Verbosity, 1, "Verbosity level of logging output")
	pflag.String(GenerateKeys, "", "Generate a key pair at the given path and exit")
}

func ParseCommandLine() {
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
}

func LoadConfig(configPath string) error {
	viper.SetConfigType("hcl")
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

func AllSettings() map[string]interface{} {
	return viper.AllSettings()
}

func GetBool(key string) bool {
	return viper.GetBool(key)
}

func GetInt(key string) int {
	return viper.GetInt(key)
}

func GetString(key string) string {
	return viper.GetString(key)
}

func GetStringSlice(key string) []string {
	return viper.GetStringSlice(key)
}

func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
