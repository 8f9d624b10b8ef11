// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package validator provides input validation for submit/list request
// payloads ahead of the orchestrator API, built on go-playground/validator's
// struct-tag engine with a small set of domain-specific custom validators
// (the engine has no built-in notion of a scan target or pool name).
package validator

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxTargetLength bounds a single scan target string.
	MaxTargetLength = 256
	// MaxNameLength bounds pool names checked by the poolname validator.
	MaxNameLength = 128
)

var poolNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidationError represents a single field validation failure, mirroring
// the teacher's per-field error shape so handlers can render it the same way.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Validator wraps a configured go-playground validator instance with the
// orchestrator's custom tag validators registered.
type Validator struct {
	v *validator.Validate
}

// New builds a Validator with "target" and "poolname" custom validators
// registered, for use with struct tags like `validate:"required,poolname"`.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("target", validateTarget)
	v.RegisterValidation("poolname", validatePoolName)
	return &Validator{v: v}
}

// Struct validates s against its `validate` struct tags, translating the
// first failure into a *ValidationError.
func (vd *Validator) Struct(s interface{}) error {
	if err := vd.v.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fe.Field(), Message: translateTag(fe)}
		}
		return err
	}
	return nil
}

// Targets validates a list of scan targets: each must be a bare IP, CIDR, or
// hostname, none dangerously long or containing shell/control characters.
func (vd *Validator) Targets(targets []string) error {
	if len(targets) == 0 {
		return &ValidationError{Field: "targets", Message: "at least one target is required"}
	}
	for _, target := range targets {
		if err := validateTargetString(target); err != nil {
			return err
		}
	}
	return nil
}

func validateTarget(fl validator.FieldLevel) bool {
	return validateTargetString(fl.Field().String()) == nil
}

func validateTargetString(target string) error {
	if target == "" {
		return &ValidationError{Field: "targets", Message: "target cannot be empty"}
	}
	if len(target) > MaxTargetLength {
		return &ValidationError{Field: "targets", Message: fmt.Sprintf("target exceeds maximum length of %d characters", MaxTargetLength)}
	}
	for _, r := range target {
		if r < 0x20 || r == 0x7f {
			return &ValidationError{Field: "targets", Message: "target contains control characters"}
		}
	}
	if strings.ContainsAny(target, ";&|`$()<>\\\n\r") {
		return &ValidationError{Field: "targets", Message: "target contains invalid shell metacharacters"}
	}
	if strings.Contains(target, "/") {
		if _, _, err := net.ParseCIDR(target); err != nil {
			return &ValidationError{Field: "targets", Message: "target looks like a CIDR but does not parse as one"}
		}
		return nil
	}
	if net.ParseIP(target) != nil {
		return nil
	}
	// Fall back to hostname-shaped validation: labels of letters, digits,
	// dashes, joined by dots.
	for _, label := range strings.Split(target, ".") {
		if label == "" || len(label) > 63 {
			return &ValidationError{Field: "targets", Message: "target is not a valid IP, CIDR, or hostname"}
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
				return &ValidationError{Field: "targets", Message: "target is not a valid IP, CIDR, or hostname"}
			}
		}
	}
	return nil
}

func validatePoolName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	return name != "" && len(name) <= MaxNameLength && poolNameRegex.MatchString(name)
}

func translateTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "poolname":
		return "must contain only letters, digits, dash, underscore, and dot"
	case "target":
		return "is not a valid scan target"
	case "max":
		return fmt.Sprintf("exceeds maximum length of %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
