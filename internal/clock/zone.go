package clock

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/civil"
)

// DefaultZone is the operating timezone of the clinic.
const DefaultZone = "America/Fortaleza"

const labelLayout = "02/01/2006 15:04"

// Zone converts between absolute instants and civil time in one fixed
// location, independent of the host's TZ setting.
type Zone struct {
	loc *time.Location
}

// LoadZone resolves a zone by IANA name from the embedded tz database, so the
// lookup does not depend on the host's zoneinfo files.
func LoadZone(name string) (Zone, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Zone{}, errors.New("clock: zone name must not be empty")
	}
	if name == "Local" {
		return Zone{}, errors.New("clock: host-local zone is not allowed")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{}, fmt.Errorf("clock: load zone %q: %w", name, err)
	}
	return Zone{loc: loc}, nil
}

// MustLoadZone is LoadZone for static names in tests and defaults.
func MustLoadZone(name string) Zone {
	z, err := LoadZone(name)
	if err != nil {
		panic(err)
	}
	return z
}

// Location returns the zone's location.
func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// Name returns the IANA name of the zone.
func (z Zone) Name() string { return z.Location().String() }

// ToCivil returns the wall-clock date and time of t in the zone.
func (z Zone) ToCivil(t time.Time) civil.DateTime {
	return civil.DateTimeOf(t.In(z.Location()))
}

// ToInstant returns the instant at which the zone's wall clock reads dt.
func (z Zone) ToInstant(dt civil.DateTime) time.Time {
	return dt.In(z.Location())
}

// At returns the instant of hour:minute on date d in the zone.
func (z Zone) At(d civil.Date, hour, minute int) time.Time {
	return z.ToInstant(civil.DateTime{Date: d, Time: civil.Time{Hour: hour, Minute: minute}})
}

// Today returns the civil date of c.Now() in the zone.
func (z Zone) Today(c Clock) civil.Date {
	return z.ToCivil(c.Now()).Date
}

// Label formats t as a dd/mm/yyyy hh:mm string in the zone.
func (z Zone) Label(t time.Time) string {
	return t.In(z.Location()).Format(labelLayout)
}
