package cmd

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// resetViper clears global viper and flag state between tests.
func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("PROCPLANE")
	viper.AutomaticEnv()
	for _, c := range rootCmd.Commands() {
		c.Flags().Visit(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				sv.Replace(nil)
			} else {
				f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}
}
