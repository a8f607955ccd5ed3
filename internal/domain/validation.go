package domain

import (
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// MaintainerRegex matches GitHub account and repository names
var MaintainerRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// SemVerRegex validates semantic version strings
var SemVerRegex = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// IsSemVerTag reports whether tag is a semantic version with an optional
// leading "v"
func IsSemVerTag(tag string) bool {
	return SemVerRegex.MatchString(strings.TrimPrefix(tag, "v"))
}

// NewValidator creates a configured validator instance
func NewValidator() *validator.Validate {
	v := validator.New()

	_ = v.RegisterValidation("github_name", func(fl validator.FieldLevel) bool {
		return MaintainerRegex.MatchString(fl.Field().String())
	})

	_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
		return SemVerRegex.MatchString(fl.Field().String())
	})

	// Tags may carry a "v" prefix
	_ = v.RegisterValidation("tag", func(fl validator.FieldLevel) bool {
		return IsSemVerTag(fl.Field().String())
	})

	return v
}

var (
	defaultValidator     *validator.Validate
	defaultValidatorOnce sync.Once
)

func sharedValidator() *validator.Validate {
	defaultValidatorOnce.Do(func() { defaultValidator = NewValidator() })
	return defaultValidator
}

// ValidateVersionRecord checks a record before it is written to the hub
func ValidateVersionRecord(rec *VersionRecord) error {
	if err := sharedValidator().Struct(rec); err != nil {
		return Errorf(KindVersion, "validate version record", "%s: %w", rec.ID, err)
	}
	return nil
}

// ValidateIndexRecord checks an index record before it is written to the hub
func ValidateIndexRecord(rec *IndexRecord) error {
	if err := sharedValidator().Struct(rec); err != nil {
		return Errorf(KindVersion, "validate index record", "%s/%s: %w", rec.Namespace, rec.Name, err)
	}
	return nil
}
