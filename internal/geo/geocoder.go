package geo

import (
	"context"

	domain "github.com/fieldline/commerce/internal/domain"
)

// Coordinates is a geocoded point.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Geocoder resolves a postal address to coordinates. Lookups are best effort;
// callers must tolerate failures without aborting the surrounding operation.
type Geocoder interface {
	Geocode(ctx context.Context, addr domain.Address) (Coordinates, error)
}

// GeocoderFunc adapts ordinary functions to Geocoder.
type GeocoderFunc func(ctx context.Context, addr domain.Address) (Coordinates, error)

// Geocode resolves the address using the wrapped function.
func (f GeocoderFunc) Geocode(ctx context.Context, addr domain.Address) (Coordinates, error) {
	return f(ctx, addr)
}

// Noop returns a geocoder that reports every address as unresolvable.
func Noop() Geocoder {
	return GeocoderFunc(func(context.Context, domain.Address) (Coordinates, error) {
		return Coordinates{}, ErrUnresolvable
	})
}
