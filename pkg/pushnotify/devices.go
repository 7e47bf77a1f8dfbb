package pushnotify

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/function61/gokit/jsonfile"
	"github.com/go-playground/validator/v10"
)

type RegisterResult int

const (
	Registered RegisterResult = iota
	Duplicate
)

func (r RegisterResult) String() string {
	if r == Duplicate {
		return "duplicate"
	}
	return "registered"
}

var ErrMalformedToken = errors.New("malformed push token")

var (
	expoTokenRe     = regexp.MustCompile(`^Expo(nent)?PushToken\[[^\[\]\s]+\]$`)
	uuidLikeTokenRe = regexp.MustCompile(`(?i)^[a-z\d]{8}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{12}$`)
)

// the provider's token grammar
func IsPushToken(token string) bool {
	return expoTokenRe.MatchString(token) || uuidLikeTokenRe.MatchString(token)
}

type registration struct {
	Token string `validate:"required,max=255,expopushtoken"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("expopushtoken", func(fl validator.FieldLevel) bool {
		return IsPushToken(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

func ValidateToken(token string) error {
	if err := validate.Struct(&registration{Token: token}); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	return nil
}

// Devices is the persisted set of push tokens, stored as a JSON array in one file.
// entries are never updated and never expire.
type Devices struct {
	path string
	mu   sync.Mutex
}

func NewDevices(path string) *Devices {
	return &Devices{path: path}
}

func (d *Devices) Register(token string) (RegisterResult, error) {
	if err := ValidateToken(token); err != nil {
		return Registered, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tokens, err := d.load()
	if err != nil {
		return Registered, err
	}

	for _, existing := range tokens {
		if existing == token {
			return Duplicate, nil
		}
	}

	if err := jsonfile.Write(d.path, append(tokens, token)); err != nil {
		return Registered, fmt.Errorf("devices: %w", err)
	}

	return Registered, nil
}

func (d *Devices) List() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.load()
}

func (d *Devices) load() ([]string, error) {
	if _, err := os.Stat(d.path); os.IsNotExist(err) {
		return []string{}, nil // no registrations yet
	}

	tokens := []string{}
	if err := jsonfile.Read(d.path, &tokens, true); err != nil {
		return nil, fmt.Errorf("devices: %w", err)
	}

	return tokens, nil
}
