package geo

import "errors"

// ErrUnresolvable indicates the geocoder could not resolve the address.
var ErrUnresolvable = errors.New("geo: address unresolvable")
