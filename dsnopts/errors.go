package dsnopts

import "fmt"

func errMissingField(name string) error {
	return fmt.Errorf("dsnopts: %s is required", name)
}
