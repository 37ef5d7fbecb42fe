package model

import (
	"errors"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/orderlane/webhook-engine/internal/event"
)

// Validate enforces the subscription invariants: absolute http(s) target URL,
// non-empty set of known event kinds, non-negative retry ceiling, positive
// timeout.
func (s Subscription) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.TenantID, validation.Required),
		validation.Field(&s.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&s.TargetURL, validation.Required, validation.By(absoluteHTTPURL)),
		validation.Field(&s.Events, validation.Required, validation.By(catalogueMembers)),
		validation.Field(&s.MaxRetries, validation.Min(0)),
		validation.Field(&s.TimeoutSeconds, validation.Required, validation.Min(1)),
	)
}

func absoluteHTTPURL(value any) error {
	raw, _ := value.(string)
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

func catalogueMembers(value any) error {
	kinds, _ := value.([]event.Kind)
	for _, k := range kinds {
		if !event.Valid(k) {
			return errors.New("unknown event kind: " + string(k))
		}
	}
	return nil
}
