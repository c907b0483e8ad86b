package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks a configuration for correctness using the struct-level
// validate tags plus a few cross-field rules the tags cannot express.
//
// Validate does not mutate the config; normalization (log level casing)
// happens in ApplyDefaults.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	return validateCrossField(cfg)
}

// validateCrossField checks rules that span multiple fields.
func validateCrossField(cfg *Config) error {
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry is enabled but telemetry.endpoint is empty")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return errors.New("profiling is enabled but telemetry.profiling.endpoint is empty")
	}
	if cfg.Backend.S3.AccessKeyID != "" && cfg.Backend.S3.SecretAccessKey == "" {
		return errors.New("backend.s3.access_key_id is set but backend.s3.secret_access_key is empty")
	}
	return nil
}

// formatFieldError renders one validation failure as "path: constraint".
// The struct namespace is lowercased and stripped of the Config prefix so
// messages read like config file keys (e.g. "storage.dir: required").
func formatFieldError(fe validator.FieldError) string {
	path := strings.TrimPrefix(fe.Namespace(), "Config.")
	path = strings.ToLower(path)

	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %q constraint (%s=%s)", path, fe.Tag(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %q constraint", path, fe.Tag())
}
