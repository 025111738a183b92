package etc

import (
	"time"

	"github.com/nrednav/cuid2"
)

func NewFreshID() string {
	return cuid2.Generate()
}

type TimeProvider interface {
	Now() time.Time
}

type SystemTime struct{}

func (SystemTime) Now() time.Time {
	return time.Now()
}
