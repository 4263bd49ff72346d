// Package validate checks request fields before they reach a repository.
package validate

import (
	"net/mail"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Errors maps a field name to its first failure message.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + e[f]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Checker accumulates field errors; only the first error per field is kept.
type Checker struct {
	errs Errors
}

func New() *Checker {
	return &Checker{errs: Errors{}}
}

func (c *Checker) add(field, msg string) {
	if _, ok := c.errs[field]; !ok {
		c.errs[field] = msg
	}
}

func (c *Checker) Required(field, value string) *Checker {
	if strings.TrimSpace(value) == "" {
		c.add(field, "is required")
	}
	return c
}

func (c *Checker) UUID(field, value string) *Checker {
	if !IsUUID(value) {
		c.add(field, "must be a valid UUID")
	}
	return c
}

// Email checks value when set; combine with Required for mandatory fields.
func (c *Checker) Email(field, value string) *Checker {
	if value != "" && !IsEmail(value) {
		c.add(field, "must be a valid email address")
	}
	return c
}

func (c *Checker) Slug(field, value string) *Checker {
	if value != "" && !IsSlug(value) {
		c.add(field, "may only contain lowercase letters, digits and single hyphens")
	}
	return c
}

func (c *Checker) MaxLength(field, value string, n int) *Checker {
	if len([]rune(value)) > n {
		c.add(field, "is too long")
	}
	return c
}

func (c *Checker) Check(ok bool, field, msg string) *Checker {
	if !ok {
		c.add(field, msg)
	}
	return c
}

// Err returns the collected errors, or nil.
func (c *Checker) Err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}

func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

func IsEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

func IsSlug(s string) bool {
	return slugPattern.MatchString(s)
}
