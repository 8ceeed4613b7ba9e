// Package validation checks request shapes before any side effect happens.
package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Username bounds are shared by request validation, generated usernames and
// the profiles_username_length check in migrations/0001_profiles.sql.
const (
	UsernameMinLength = 3
	UsernameMaxLength = 20
	BioMaxLength      = 300
	PasswordMinLength = 8
	EmailMaxLength    = 254
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_.]+$`)

// Errors maps a request field (json name) to a user-facing message.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e[f]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsErrors extracts field errors from err.
func AsErrors(err error) (Errors, bool) {
	var ve Errors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

const passwordMessage = "Password must be at least 8 characters, contain at least one uppercase letter, and contain at least one number"

var messages = map[string]string{
	"email.required":    "email is required",
	"email.email":       "Invalid email",
	"email.max":         "Invalid email",
	"password.required": "password is required",
	"password.min":      passwordMessage,
	"password.password": passwordMessage,
	"username.username": fmt.Sprintf("Username must be %d-%d characters of letters, numbers, '_' or '.'", UsernameMinLength, UsernameMaxLength),
	"bio.max":           fmt.Sprintf("Bio must be at most %d characters", BioMaxLength),
}

type credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,password"`
}

type patch struct {
	Username *string `json:"username" validate:"omitempty,username"`
	Bio      *string `json:"bio" validate:"omitempty,max=300"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return isStrongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return IsValidUsername(fl.Field().String())
	})
	return v
}

// Credentials validates an email/password pair used for registration.
func Credentials(email, password string) error {
	return check(credentials{Email: email, Password: password})
}

// LoginCredentials only requires both fields; strength rules belong to sign up.
func LoginCredentials(email, password string) error {
	errs := Errors{}
	if strings.TrimSpace(email) == "" {
		errs["email"] = messages["email.required"]
	}
	if password == "" {
		errs["password"] = messages["password.required"]
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Patch validates a profile patch. Username is checked after normalisation.
func Patch(username, bio *string) error {
	p := patch{Bio: bio}
	if username != nil {
		n := NormalizeUsername(*username)
		p.Username = &n
	}
	return check(p)
}

func check(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := Errors{}
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		msg, ok := messages[field+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s is invalid", field)
		}
		out[field] = msg
	}
	return out
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername lower-cases and trims a username before storage or comparison.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// IsValidUsername checks an already normalised username.
func IsValidUsername(username string) bool {
	n := len(username)
	return n >= UsernameMinLength && n <= UsernameMaxLength && usernameRe.MatchString(username)
}

func isStrongPassword(pw string) bool {
	if len(pw) < PasswordMinLength {
		return false
	}
	var upper, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && digit
}

// UsernameFromEmail derives a username from an email address. The result is
// deterministic for a given email and always passes IsValidUsername.
func UsernameFromEmail(email string) string {
	email = NormalizeEmail(email)
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}

	var b strings.Builder
	for _, r := range local {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if base == "" {
		base = "user"
	}

	sum := sha256.Sum256([]byte(email))
	suffix := "_" + hex.EncodeToString(sum[:])[:4]

	if maxBase := UsernameMaxLength - len(suffix); len(base) > maxBase {
		base = base[:maxBase]
	}
	return base + suffix
}
