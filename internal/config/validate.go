package config

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/go-saas/txn"
	"github.com/spf13/viper"
)

func validatePropagation(fl validator.FieldLevel) bool {
	_, err := txn.ParsePropagation(fl.Field().String())
	return err == nil
}

func validateIsolation(fl validator.FieldLevel) bool {
	_, err := txn.ParseIsolation(fl.Field().String())
	return err == nil
}

// Validate validates the config once it has been loaded using runtimeConfig
func (c *Config) Validate() error {
	// Parse viper values into a runtimeConfig struct
	config := runtimeConfig{}
	typeOf := reflect.TypeOf(config)
	valueOf := reflect.ValueOf(&config).Elem()
	for i := 0; i < typeOf.NumField(); i++ {
		field := typeOf.Field(i)
		viperKey, ok := field.Tag.Lookup("viper")
		if !ok {
			panic("Unexpected missing viper tag on Config struct")
		}
		switch valueOf.Field(i).Kind() {
		case reflect.Bool:
			valueOf.Field(i).SetBool(viper.GetBool(viperKey))
		case reflect.String:
			valueOf.Field(i).SetString(viper.GetString(viperKey))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			valueOf.Field(i).SetInt(viper.GetInt64(viperKey))
		default:
			valueOf.Field(i).Set(reflect.ValueOf(viper.Get(viperKey)))
		}
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("propagation", validatePropagation); err != nil {
		return fmt.Errorf("error registering propagation validator for config validation: %w", err)
	}
	if err := validate.RegisterValidation("isolation", validateIsolation); err != nil {
		return fmt.Errorf("error registering isolation validator for config validation: %w", err)
	}
	err := validate.Struct(config)
	if err != nil {
		msg := ""
		for _, err := range err.(validator.ValidationErrors) {
			msg += fmt.Sprintf("\n%s failed validation on '%s' validator.", err.Field(), err.Tag())
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
