package errors

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "errors")
