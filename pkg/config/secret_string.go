package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

func NewSecretString(value string) SecretString {
	return SecretString{value}
}

// SecretString is a type that can be used to store secrets in a way that they are not printed in logs or marshaled to JSON.
type SecretString struct {
	value string
}

func (s SecretString) String() string {
	return "*****"
}

func (s SecretString) Value() string {
	return s.value
}

func (s SecretString) IsEmpty() bool {
	return s.value == ""
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return json.Marshal("*****")
}

func (s *SecretString) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &s.value); err != nil {
		return fmt.Errorf("unable to unmarshal secret: %w", err)
	}
	return nil
}

func (s *SecretString) UnmarshalYAML(unmarshal func(any) error) error {
	if err := unmarshal(&s.value); err != nil {
		return fmt.Errorf("unable to unmarshal secret: %w", err)
	}
	return nil
}

func (s SecretString) MarshalYAML() (interface{}, error) {
	return "*****", nil
}

// UnmarshalText allows secrets to be set from environment variables.
func (s *SecretString) UnmarshalText(text []byte) error {
	s.value = string(text)
	return nil
}

func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(s.String())
}
