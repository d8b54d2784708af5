package blacklist

import "github.com/spf13/viper"

// Load builds a snapshot from the blacklist section of the configuration. A
// missing section yields an empty blacklist that never blocks.
func Load(v *viper.Viper) *Blacklist {
	return New(v.GetStringSlice("blacklist.numbers"), v.GetStringSlice("blacklist.names"))
}
