package pool

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "pool")
