package smconfig

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct-tag constraints plus cross-field rules that
// can't be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	switch cfg.VFS.Scheme {
	case "file":
		if _, ok := cfg.VFS.File["root"]; !ok {
			return fmt.Errorf("vfs.file.root is required when vfs.scheme is \"file\"")
		}
	case "s3":
		if _, ok := cfg.VFS.S3["bucket"]; !ok {
			return fmt.Errorf("vfs.s3.bucket is required when vfs.scheme is \"s3\"")
		}
	case "badger":
		if _, ok := cfg.VFS.Badger["dir"]; !ok {
			return fmt.Errorf("vfs.badger.dir is required when vfs.scheme is \"badger\"")
		}
	}
	return nil
}

func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
