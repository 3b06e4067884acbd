package cli

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variable of every flag (TRIAGEDISK_SIZE for --size)
const EnvPrefix = "TRIAGEDISK"

// NewConfig returns a viper instance that reads TRIAGEDISK_* environment variables
func NewConfig() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs to v under the flag's name
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var result *multierror.Error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result.ErrorOrNil()
}
