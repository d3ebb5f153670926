// Package destroy releases groups of resources that need explicit teardown.
package destroy

import (
	"errors"
	"reflect"
)

// Destroyer is a resource with an explicit, idempotent release.
type Destroyer interface {
	Destroy() error
}

// All destroys every resource, continuing past failures, and joins the errors.
// Nil interfaces and typed nil pointers are skipped.
func All(resources ...Destroyer) error {
	var errs []error
	for _, resource := range resources {
		if isNil(resource) {
			continue
		}
		errs = append(errs, resource.Destroy())
	}
	return errors.Join(errs...)
}

func isNil(resource Destroyer) bool {
	if resource == nil {
		return true
	}
	value := reflect.ValueOf(resource)
	switch value.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return value.IsNil()
	default:
		return false
	}
}
