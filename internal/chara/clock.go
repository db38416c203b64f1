package chara

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the timestamps of snapshots, scans and operations.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// UTCClock reads the system clock in UTC.
var UTCClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// IDGenerator creates row IDs.
type IDGenerator interface {
	New() string
}

// IDFunc adapts a function to IDGenerator.
type IDFunc func() string

func (f IDFunc) New() string { return f() }

// RandomIDs generates version 4 UUIDs.
var RandomIDs IDGenerator = IDFunc(uuid.NewString)
