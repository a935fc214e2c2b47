package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML names so messages match the config file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return describe(verrs[0])
		}
		return err
	}

	if cfg.Scratch.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Scratch.SweepSchedule); err != nil {
			return fmt.Errorf("scratch.sweep_schedule %q is not a valid cron expression: %w", cfg.Scratch.SweepSchedule, err)
		}
	}

	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.FilePath) == "" && strings.TrimSpace(cfg.Audit.WebhookURL) == "" {
		return errors.New("audit.enabled requires audit.file_path or audit.webhook_url")
	}

	return nil
}

func describe(fe validator.FieldError) error {
	// Namespace is "Config.server.addr"; drop the root type name.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Errorf("%s must be set", field)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "url":
		return fmt.Errorf("%s must be a valid URL, got %q", field, fe.Value())
	case "gt", "gte":
		return fmt.Errorf("%s must be %s %s", field, map[string]string{"gt": ">", "gte": ">="}[fe.Tag()], fe.Param())
	default:
		return fmt.Errorf("%s failed %q validation", field, fe.Tag())
	}
}
