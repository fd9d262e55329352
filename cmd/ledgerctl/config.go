package main

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// applyConfigFile exports every key of a YAML file as an environment
// variable, so config.LoadConfig sees file values ahead of the environment.
// Nested keys are joined with underscores: stripe.secret_key becomes
// STRIPE_SECRET_KEY.
func applyConfigFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for _, key := range v.AllKeys() {
		name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}
