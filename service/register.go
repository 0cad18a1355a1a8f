package service

import "fmt"

// RegisterAll registers the built-in services with the registry. Domain
// services register their own constructors at startup.
func RegisterAll(registry *Registry) error {
	services := map[string]Constructor{
		"metrics": NewMetrics,
	}

	for name, constructor := range services {
		if err := registry.Register(name, constructor); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}
