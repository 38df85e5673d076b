package config

import (
	"reflect"

	"github.com/spf13/viper"
)

// init viper, set defaults, and bind env vars using the runtimeConfig struct
func init() {
	typeOf := reflect.TypeOf(runtimeConfig{})
	for i := 0; i < typeOf.NumField(); i++ {
		field := typeOf.Field(i)
		viperKey, ok := field.Tag.Lookup("viper")
		if !ok {
			panic("Unexpected missing viper tag on Config struct")
		}
		if defaultValue, ok := field.Tag.Lookup("default"); ok {
			viper.SetDefault(viperKey, defaultValue)
		}
		if envkey, ok := field.Tag.Lookup("envkey"); ok {
			_ = viper.BindEnv(viperKey, envkey)
		}
	}
	// Auto convert strings to appropriate types (like "true" to boolean)
	viper.AutomaticEnv()
}
