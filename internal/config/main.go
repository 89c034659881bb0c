package config

import "fmt"

type RunningEnvironment string

const Development RunningEnvironment = "development"
const Production RunningEnvironment = "production"

type Config struct {
	RunningEnvironment RunningEnvironment
	DebugMode          bool
	Server             ServerConfig
	Client             ClientConfig
	Throttle           ThrottleConfig
	Retry              RetryConfig
	Refresh            RefreshConfig
	CredentialStore    CredentialStoreConfig
	Monitoring         MonitoringConfig
}

func (c *Config) Validate() error {
	if c.RunningEnvironment != Development && c.RunningEnvironment != Production {
		return fmt.Errorf("unknown running environment %q", c.RunningEnvironment)
	}
	err := c.Client.Validate()
	if err != nil {
		return err
	}
	err = c.Throttle.Validate()
	if err != nil {
		return err
	}
	err = c.Retry.Validate()
	if err != nil {
		return err
	}
	err = c.Refresh.Validate()
	if err != nil {
		return err
	}
	err = c.CredentialStore.Validate(c.RunningEnvironment)
	if err != nil {
		return err
	}
	return nil
}
