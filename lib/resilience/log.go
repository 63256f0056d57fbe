package resilience

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "resilience")
