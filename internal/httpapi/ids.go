package httpapi

import (
	"time"

	"github.com/google/uuid"
)

func newProjectID() string {
	return uuid.NewString()
}

func now() time.Time {
	return time.Now()
}
