package cli

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

// promptCredentials asks for every field of c that is still empty.
func promptCredentials(c *credentials, withName bool) error {
	var fields []huh.Field

	if withName && c.name == "" {
		fields = append(fields, huh.NewInput().
			Title("Name").
			Value(&c.name).
			Validate(required("name")))
	}
	if c.email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Placeholder("you@example.com").
			Value(&c.email).
			Validate(required("email")))
	}
	if c.password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&c.password).
			Validate(required("password")))
	}
	if len(fields) == 0 {
		return nil
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}
	return nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

// confirm shows a yes/no prompt.
func confirm(message string, defaultValue bool) (bool, error) {
	confirmed := defaultValue
	form := huh.NewForm(huh.NewGroup(huh.NewConfirm().
		Title(message).
		Value(&confirmed)))

	if err := form.Run(); err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return confirmed, nil
}
