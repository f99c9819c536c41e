// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package validation wraps a shared go-playground/validator instance.
//
// Configuration sections and delivery channel payloads declare their rules
// with `validate` struct tags and are checked through Struct:
//
//	type ftpConfig struct {
//	    Host string `json:"host" validate:"required,hostname|ip"`
//	    Port int    `json:"port" validate:"omitempty,min=1,max=65535"`
//	}
//
//	if err := validation.Struct(&cfg); err != nil {
//	    return retry.Permanent(err)
//	}
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/backupbots/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is one failed rule.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// Error is the set of failed rules for one struct.
type Error struct {
	Fields []FieldError
}

// Error joins the field messages.
func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// Get returns the shared validator, registering custom rules on first use.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Registration only fails on an empty tag or nil func.
		_ = validate.RegisterValidation("pathtemplate", validatePathTemplate)
		_ = validate.RegisterValidation("dbtype", validateDatabaseType)
	})
	return validate
}

// Struct validates s. It returns nil or an *Error.
func Struct(s interface{}) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := &Error{Fields: make([]FieldError, len(fieldErrs))}
	for i, fe := range fieldErrs {
		out.Fields[i] = FieldError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: translate(fe),
		}
	}
	return out
}

var templateToken = regexp.MustCompile(`\{\{[^}]*\}\}`)

// validatePathTemplate accepts templates whose {{tokens}} are all known.
func validatePathTemplate(fl validator.FieldLevel) bool {
	tpl := fl.Field().String()
	if tpl == "" {
		return true
	}
	for _, tok := range templateToken.FindAllString(tpl, -1) {
		known := false
		for _, k := range models.PathTokens {
			if tok == k {
				known = true
				break
			}
		}
		if !known {
			return false
		}
	}
	return !strings.Contains(templateToken.ReplaceAllString(tpl, ""), "{{")
}

func validateDatabaseType(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true
	}
	_, err := models.ParseDatabaseType(raw)
	return err == nil
}

var messageTemplates = map[string]string{
	"required":     "%s is required",
	"email":        "%s must be a valid email address",
	"url":          "%s must be a valid URL",
	"hostname":     "%s must be a valid hostname",
	"pathtemplate": "%s contains an unknown path token",
	"dbtype":       "%s is not a supported database type",
}

var paramTemplates = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
}

func translate(fe validator.FieldError) string {
	if tpl, ok := messageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tpl, fe.Namespace())
	}
	if tpl, ok := paramTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tpl, fe.Namespace(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag())
}
