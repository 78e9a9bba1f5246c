package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is implemented by the sqlite-backed stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports p's connectivity.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// TemplateCount is satisfied by *templates.Registry.
type TemplateCount interface {
	Names() []string
}

// TemplatesCheck fails when no templates are registered.
func TemplatesCheck(r TemplateCount) CheckFunc {
	return func(context.Context) error {
		if len(r.Names()) == 0 {
			return errors.New("no templates registered")
		}
		return nil
	}
}

// PoliciesCheck fails when fewer than min policies are loaded.
func PoliciesCheck(count func() int, min int) CheckFunc {
	return func(context.Context) error {
		if n := count(); n < min {
			return fmt.Errorf("%d policies loaded, need at least %d", n, min)
		}
		return nil
	}
}
